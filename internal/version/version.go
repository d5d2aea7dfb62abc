// Package version reports build information for the bridge binaries.
//
// Release builds stamp the variables with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/matchbridge/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/matchbridge/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/bridge
//
// Unstamped builds fall back to the VCS revision recorded by the Go toolchain.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

// Get returns build information, preferring ldflags values over VCS metadata.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info.withUnknowns()
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info.withUnknowns()
}

// String formats Info for startup logs and -version output.
func (i Info) String() string {
	s := i.Version + " (" + i.Commit
	if i.Modified {
		s += "-dirty"
	}
	return s + ") built " + i.BuildTime + " with " + i.GoVersion
}

func (i Info) withUnknowns() Info {
	if i.Commit == "" {
		i.Commit = "unknown"
	}
	if i.BuildTime == "" {
		i.BuildTime = "unknown"
	}
	return i
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
