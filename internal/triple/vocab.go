package triple

// Namespaces used across the source server's vocabularies.
const (
	NSRDF        = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSRDFS       = "http://www.w3.org/2000/01/rdf-schema#"
	NSXSD        = "http://www.w3.org/2001/XMLSchema#"
	NSFOAF       = "http://xmlns.com/foaf/0.1/"
	NSDCTerms    = "http://purl.org/dc/terms/"
	NSOSLC       = "http://open-services.net/ns/core#"
	NSOSLCRM     = "http://open-services.net/ns/rm#"
	NSOSLCRM1    = "http://open-services.net/xmlns/rm/1.0/"
	NSOSLCConfig = "http://open-services.net/ns/config#"
	NSJazzNav    = "http://jazz.net/ns/rm/navigation#"
)

// Frequently matched terms.
const (
	RDFType    = NSRDF + "type"
	RDFSMember = NSRDFS + "member"
	RDFSLabel  = NSRDFS + "label"

	DCTTitle       = NSDCTerms + "title"
	DCTIdentifier  = NSDCTerms + "identifier"
	DCTCreated     = NSDCTerms + "created"
	DCTCreator     = NSDCTerms + "creator"
	DCTDescription = NSDCTerms + "description"

	FOAFNick = NSFOAF + "nick"
	FOAFName = NSFOAF + "name"

	OSLCInstanceShape   = NSOSLC + "instanceShape"
	OSLCQueryCapability = NSOSLC + "QueryCapability"
	OSLCQueryBase       = NSOSLC + "queryBase"
	OSLCResourceType    = NSOSLC + "resourceType"

	RMRequirement           = NSOSLCRM + "Requirement"
	RMRequirementCollection = NSOSLCRM + "RequirementCollection"
	RMUses                  = NSOSLCRM + "uses"
	RMServiceProviders      = NSOSLCRM1 + "rmServiceProviders"

	ConfigComponent        = NSOSLCConfig + "component"
	ConfigConfigurations   = NSOSLCConfig + "configurations"
	ConfigBaseline         = NSOSLCConfig + "Baseline"
	ConfigStream           = NSOSLCConfig + "Stream"
	ConfigOverrides        = NSOSLCConfig + "overrides"
	ConfigPreviousBaseline = NSOSLCConfig + "previousBaseline"
	ConfigStreams          = NSOSLCConfig + "streams"
	ConfigBaselineOfStream = NSOSLCConfig + "baselineOfStream"

	NavFolder = NSJazzNav + "folder"
	NavParent = NSJazzNav + "parent"
)
