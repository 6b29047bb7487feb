package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig         = "DNGSYNC_CONFIG"
	EnvDataDir        = "DNGSYNC_DATA_DIR"
	EnvSourceServer   = "DNG_SERVER"
	EnvSourceUser     = "DNG_USER"
	EnvSourcePassword = "DNG_PASS"
	EnvTargetServer   = "MMS_SERVER"
	EnvTargetUser     = "MMS_USER"
	EnvTargetPassword = "MMS_PASS"
)

// EnvOverrides holds values read from environment variables. Passwords are
// only ever read from here.
type EnvOverrides struct {
	ConfigPath     string
	DataDir        string
	SourceServer   string
	SourceUser     string
	SourcePassword string
	TargetServer   string
	TargetUser     string
	TargetPassword string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		DataDir:        os.Getenv(EnvDataDir),
		SourceServer:   os.Getenv(EnvSourceServer),
		SourceUser:     os.Getenv(EnvSourceUser),
		SourcePassword: os.Getenv(EnvSourcePassword),
		TargetServer:   os.Getenv(EnvTargetServer),
		TargetUser:     os.Getenv(EnvTargetUser),
		TargetPassword: os.Getenv(EnvTargetPassword),
	}
}

// apply copies every non-empty override onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&cfg.Sync.DataDir, e.DataDir)
	set(&cfg.Source.Server, e.SourceServer)
	set(&cfg.Source.User, e.SourceUser)
	set(&cfg.Source.Password, e.SourcePassword)
	set(&cfg.Target.Server, e.TargetServer)
	set(&cfg.Target.User, e.TargetUser)
	set(&cfg.Target.Password, e.TargetPassword)
}
