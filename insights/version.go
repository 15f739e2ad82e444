package insights

// Version is the semantic version of the credit-insights library
const Version = "0.1.0"

// VersionInfo describes the library build
type VersionInfo struct {
	Version string
	Name    string
}

// GetVersion returns structured version information for logging and the CLI
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Name:    "credit-insights",
	}
}
