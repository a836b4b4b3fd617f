package version

import "runtime/debug"

var buildName string
var buildVersion string

// BuildName gets the current build name. This is usually injected if built
// from git, or returns "txrate" otherwise.
func BuildName() string {
	if buildName == "" {
		return "txrate"
	}
	return buildName
}

// BuildVersion gets the current build version. This is usually injected if
// built from git. Otherwise the module version recorded by the Go toolchain
// is used, or "unknown" if there is none.
func BuildVersion() string {
	if buildVersion != "" {
		return buildVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "unknown"
}
