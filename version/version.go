package version

import "github.com/carlmjohnson/versioninfo"

// Version represents the Major.Minor.Patch version tag
// from GIT, supplied by the Makefile - else 'dev' as a
// default
var Version string = "dev"

// String is Version, or the VCS stamp Go embedded at build time when the
// Makefile did not supply one
func String() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	return versioninfo.Short()
}

func Revision() string {
	return versioninfo.Revision
}

func Dirty() bool {
	return versioninfo.DirtyBuild
}
