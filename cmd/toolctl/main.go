// Package main provides the CLI entry point for toolctl.
package main

import (
	"os"
	"runtime/debug"

	"github.com/alexander-akhmetov/toolctl/internal/cli"
)

// Version information set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type buildVersion struct {
	Version string
	Commit  string
	Date    string
}

func main() {
	v := buildVersion{Version: version, Commit: commit, Date: date}
	if v.Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			v = versionFromBuildInfo(info, v)
		}
	}
	cli.SetVersionInfo(v.Version, v.Commit, v.Date)
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}

// versionFromBuildInfo fills in what ldflags left unset from the module
// version and the VCS stamp embedded by `go build`.
func versionFromBuildInfo(info *debug.BuildInfo, v buildVersion) buildVersion {
	if info == nil {
		return v
	}
	if mv := info.Main.Version; mv != "" && mv != "(devel)" {
		v.Version = mv
	}

	var revision string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			if s.Value != "" {
				v.Date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(revision) >= 7 {
		v.Commit = revision[:7]
		if dirty {
			v.Commit += "-dirty"
		}
	}
	return v
}
