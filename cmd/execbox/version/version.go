package version

import "runtime/debug"

// Version is the build version reported by /version.
var Version = "dev"

func init() {
	inf, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if inf.Main.Version != "" && inf.Main.Version != "(devel)" {
		Version = inf.Main.Version
	}
}
