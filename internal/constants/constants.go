// Package constants provides centralized domain-specific constants
// for the entire kepsync application.
//
// Property keys follow the server's "<namespace>.<SYMBOL>" convention.
// Only the keys the reconciliation engine itself interprets live here;
// everything else travels through the property bag untouched.
package constants

// =============================================================================
// Identity Keys
// =============================================================================

const (
	// PropertyName carries the entity name on the wire.
	PropertyName = "common.ALLTYPES_NAME"

	// PropertyDescription carries the free-text description.
	PropertyDescription = "common.ALLTYPES_DESCRIPTION"

	// PropertyProjectID is assigned by the server and echoed on every read.
	// It is never sent back.
	PropertyProjectID = "PROJECT_ID"
)

// =============================================================================
// Driver Keys
// =============================================================================

const (
	// PropertyDeviceDriver names the driver of a channel or device.
	PropertyDeviceDriver = "servermain.MULTIPLE_TYPES_DEVICE_DRIVER"
)

// =============================================================================
// Child Collection Keys
// =============================================================================

const (
	ChildChannels  = "channels"
	ChildDevices   = "devices"
	ChildTags      = "tags"
	ChildTagGroups = "tag_groups"
)

// =============================================================================
// Nested Property Groups
// =============================================================================

const (
	// ProjectClientInterfaces is the array-of-objects key that the project
	// endpoint uses for its nested client interface settings.
	ProjectClientInterfaces = "client_interfaces"
)

// ClientInterfacePrefixes lists the namespaces that make up the nested
// client_interfaces group on the project.
var ClientInterfacePrefixes = []string{
	"opcdaserver",
	"wwtoolkitinterface",
	"ddeserver",
	"uaserverinterface",
	"aeserverinterface",
	"hdaserver",
	"thingworxinterface",
}

// =============================================================================
// Tag Scaling
// =============================================================================

const (
	// TagScalingType selects the scaling mode; 0 disables scaling.
	TagScalingType = "servermain.TAG_SCALING_TYPE"

	// TagScalingNone is the value of TagScalingType when scaling is off.
	TagScalingNone = 0
)

// TagScalingProperties are only meaningful while scaling is enabled.
var TagScalingProperties = []string{
	"servermain.TAG_SCALING_RAW_LOW",
	"servermain.TAG_SCALING_RAW_HIGH",
	"servermain.TAG_SCALING_SCALED_DATA_TYPE",
	"servermain.TAG_SCALING_SCALED_LOW",
	"servermain.TAG_SCALING_SCALED_HIGH",
	"servermain.TAG_SCALING_CLAMP_LOW",
	"servermain.TAG_SCALING_CLAMP_HIGH",
	"servermain.TAG_SCALING_NEGATE_VALUE",
	"servermain.TAG_SCALING_UNITS",
}

// =============================================================================
// Server-maintained Keys
// =============================================================================

// NonSerializedProperties are maintained by the server. They never take
// part in hashes or update payloads.
var NonSerializedProperties = []string{
	PropertyProjectID,
	"servermain.PROJECT_TAGS_DEFINED",
	"servermain.TAG_AUTOGENERATED",
	"servermain.CHANNEL_UNIQUE_ID",
	"servermain.DEVICE_UNIQUE_ID",
	"servermain.CHANNEL_STATIC_TAG_COUNT",
	"servermain.DEVICE_STATIC_TAG_COUNT",
}

// =============================================================================
// REST Paths
// =============================================================================

const (
	PathStatus  = "/config/v1/status"
	PathAbout   = "/config/v1/about"
	PathProject = "/config/v1/project"
	PathDrivers = "/config/v1/doc/drivers"
)

// =============================================================================
// Catalog Keys
// =============================================================================

const (
	// DriverDisplayName identifies a driver in the /doc/drivers listing.
	DriverDisplayName = "display_name"

	// PropertyDefinitions holds the per-driver property documentation.
	PropertyDefinitions = "property_definitions"

	// DefinitionSymbolicName and DefinitionDefaultValue are the fields of a
	// single property definition.
	DefinitionSymbolicName = "symbolic_name"
	DefinitionDefaultValue = "default_value"
)
