package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

const (
	AppName = "BucketSync"

	devVersion      = "0.1.0-dev"
	unknownRevision = "unknown"
	revisionLen     = 12
)

// Overridden at link time, e.g.
// -ldflags "-X github.com/openmined/bucketsync/internal/version.version=1.2.0"
var (
	version   string
	revision  string
	buildDate string
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	Modified  bool   `json:"modified,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

var current = sync.OnceValue(func() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(bi)
})

// Get returns the build information of the running binary.
func Get() Info {
	return current()
}

// resolve merges link-time values with the module and VCS stamps of bi.
// Link-time values win.
func resolve(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   version,
		Revision:  revision,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi != nil {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = strings.TrimPrefix(bi.Main.Version, "v")
		}

		stamped := info.Revision != ""
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if !stamped {
					info.Revision = s.Value
				}
			case "vcs.modified":
				if !stamped {
					info.Modified = s.Value == "true"
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			}
		}
	}

	if info.Version == "" {
		info.Version = devVersion
	}
	if info.Revision == "" {
		info.Revision = unknownRevision
	}
	if len(info.Revision) > revisionLen {
		info.Revision = info.Revision[:revisionLen]
	}
	return info
}

// Short is the bare version number, used by --version.
func (i Info) Short() string {
	return i.Version
}

// String renders the full one-line banner:
// BucketSync 0.1.0 (5e23a4c1d2e3, modified) go1.23.6 darwin/arm64 built 2026-01-02T03:04:05Z
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s", AppName, i.Version, i.Revision)
	if i.Modified {
		b.WriteString(", modified")
	}
	fmt.Fprintf(&b, ") %s %s", i.GoVersion, i.Platform)
	if i.BuildDate != "" {
		fmt.Fprintf(&b, " built %s", i.BuildDate)
	}
	return b.String()
}
