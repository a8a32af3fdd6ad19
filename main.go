// Command settingsync lists and manages the machines that share a settingsync
// account, and inspects the data they sync.
package main

import (
	"runtime/debug"

	"github.com/marcus/settingsync/cmd"
)

// Version is set by release builds with -ldflags "-X main.Version=vX.Y.Z".
var Version = "dev"

// versionFrom picks the reported version: an injected release version, then
// the module version `go install` records, then a devel+<rev>[+dirty] stamp
// from VCS info, and finally injected as given.
func versionFrom(injected string, info *debug.BuildInfo) string {
	if injected != "" && injected != "dev" {
		return injected
	}
	if info == nil {
		return injected
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	vcs := map[string]string{}
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	rev := vcs["vcs.revision"]
	if rev == "" {
		return injected
	}
	v := "devel+" + rev[:min(len(rev), 12)]
	if vcs["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}

func main() {
	info, _ := debug.ReadBuildInfo()
	cmd.SetVersion(versionFrom(Version, info))
	cmd.Execute()
}
