package cmd

import (
	"fmt"
	goruntime "runtime"
	"runtime/debug"

	"github.com/dotcommander/groksearch/internal/storage"
)

// BuildInfo is injected by the build pipeline.
type BuildInfo struct {
	Version   string
	CommitSHA string
}

// versionTemplate returns the Cobra version template string including
// commit SHA, Go version, and OS/arch.
func versionTemplate(b BuildInfo) string {
	v := "{{.Name}} {{.Version}}"
	if len(b.CommitSHA) >= storage.SHA1Short {
		v += " (" + b.CommitSHA[:storage.SHA1Short] + ")"
	}
	v += fmt.Sprintf(" %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
	return v
}

// normalizeBuildInfo fills missing fields from the VCS data the toolchain
// embeds. The version is also what the tool server reports on initialize.
func normalizeBuildInfo(b BuildInfo) BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return withVCS(b, "", "")
	}
	if b.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}

	var vcsRev, vcsModified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			vcsRev = s.Value
		case "vcs.modified":
			vcsModified = s.Value
		}
	}
	return withVCS(b, vcsRev, vcsModified)
}

func withVCS(b BuildInfo, rev, modified string) BuildInfo {
	if b.CommitSHA == "" {
		b.CommitSHA = rev
	}
	if b.Version != "" {
		return b
	}
	b.Version = "dev"
	if len(rev) >= storage.SHA1Short {
		b.Version += "-" + rev[:storage.SHA1Short]
	}
	if modified == "true" {
		b.Version += "-dirty"
	}
	return b
}
