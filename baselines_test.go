package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmbee/dngsync/internal/lineage"
	"github.com/openmbee/dngsync/internal/oslc"
)

const streamURI = "https://dng.example.org/gc/configuration/S1"

func testBaseline(id, previous string, day int) lineage.Baseline {
	b := lineage.Baseline{
		ID:        id,
		URI:       "https://dng.example.org/gc/configuration/" + id,
		Title:     "Baseline " + id,
		Created:   time.Date(2024, time.January, day, 9, 0, 0, 0, time.UTC),
		StreamURI: streamURI,
	}

	if previous != "" {
		b.Previous = "https://dng.example.org/gc/configuration/" + previous
	}

	return b
}

func testConfigurations(bs ...lineage.Baseline) *oslc.Configurations {
	cfgs := &oslc.Configurations{
		Baselines: make(map[string]lineage.Baseline),
		Streams: map[string]lineage.Stream{
			streamURI: {ID: "S1", URI: streamURI, Title: "Main"},
		},
	}

	for _, b := range bs {
		cfgs.Baselines[b.URI] = b
	}

	return cfgs
}

func TestBuildBaselinesFile(t *testing.T) {
	cfgs := testConfigurations(
		testBaseline("B2", "B1", 2),
		testBaseline("B1", "", 1),
		testBaseline("B3", "B2", 3),
	)

	bf, err := buildBaselinesFile(cfgs, discardLogger())
	require.NoError(t, err)

	assert.False(t, bf.Fallback)
	assert.Len(t, bf.Map, 3)

	var history []string
	for _, h := range bf.Histories {
		history = h
	}

	require.Len(t, history, 3)
	assert.Equal(t, "B1", bf.Map[history[0]].ID)
	assert.Equal(t, "B3", bf.Map[history[2]].ID)

	data, err := json.Marshal(bf)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "histories")
	assert.Contains(t, raw, "map")
	assert.NotContains(t, raw, "fallback")
}

func TestBuildBaselinesFile_NoBaselines(t *testing.T) {
	bf, err := buildBaselinesFile(&oslc.Configurations{}, discardLogger())
	require.NoError(t, err)

	data, err := json.Marshal(bf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"histories":{},"map":{}}`, string(data))
}

func TestBuildBaselinesFile_MultipleRoots(t *testing.T) {
	_, err := buildBaselinesFile(testConfigurations(
		testBaseline("B1", "", 1),
		testBaseline("B2", "", 2),
	), discardLogger())

	assert.ErrorIs(t, err, lineage.ErrMultipleRoots)
}

func TestPrintHistories(t *testing.T) {
	bf, err := buildBaselinesFile(testConfigurations(
		testBaseline("B1", "", 1),
		testBaseline("B2", "B1", 5),
	), discardLogger())
	require.NoError(t, err)

	var buf bytes.Buffer
	printHistories(&buf, bf)

	out := buf.String()
	assert.Contains(t, out, "2024-01-01 09:00")
	assert.Contains(t, out, "Baseline B2")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("B1")), bytes.Index(buf.Bytes(), []byte("B2")))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path := filepath.Join(dir, baselinesFileName)

	require.NoError(t, writeFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	}))

	err := writeFileAtomic(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return errors.New("crawl aborted")
	})
	require.ErrorContains(t, err, "crawl aborted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "failed write leaves the previous file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
