package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withLinkValues(t *testing.T, v, r, d string) {
	t.Helper()
	oldV, oldR, oldD := version, revision, buildDate
	version, revision, buildDate = v, r, d
	t.Cleanup(func() {
		version, revision, buildDate = oldV, oldR, oldD
	})
}

func buildInfo(mainVersion string, settings map[string]string) *debug.BuildInfo {
	bi := &debug.BuildInfo{Main: debug.Module{Version: mainVersion}}
	for k, v := range settings {
		bi.Settings = append(bi.Settings, debug.BuildSetting{Key: k, Value: v})
	}
	return bi
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		link     [3]string
		bi       *debug.BuildInfo
		expected Info
	}{
		{
			name: "module build stamped by vcs",
			bi: buildInfo("v1.4.0", map[string]string{
				"vcs.revision": "abc123def4567890",
				"vcs.modified": "true",
				"vcs.time":     "2026-01-02T03:04:05Z",
			}),
			expected: Info{Version: "1.4.0", Revision: "abc123def456", Modified: true, BuildDate: "2026-01-02T03:04:05Z"},
		},
		{
			name:     "devel build",
			bi:       buildInfo("(devel)", map[string]string{"vcs.revision": "abc123"}),
			expected: Info{Version: devVersion, Revision: "abc123"},
		},
		{
			name:     "no build info",
			expected: Info{Version: devVersion, Revision: unknownRevision},
		},
		{
			name: "link-time values win",
			link: [3]string{"2.0.0", "deadbeef", "2026-03-04"},
			bi: buildInfo("v9.9.9", map[string]string{
				"vcs.revision": "abc",
				"vcs.modified": "true",
				"vcs.time":     "x",
			}),
			expected: Info{Version: "2.0.0", Revision: "deadbeef", BuildDate: "2026-03-04"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withLinkValues(t, tt.link[0], tt.link[1], tt.link[2])

			got := resolve(tt.bi)

			tt.expected.GoVersion = runtime.Version()
			tt.expected.Platform = runtime.GOOS + "/" + runtime.GOARCH
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.2.0", Revision: "abc123", GoVersion: "go1.23.6", Platform: "linux/amd64"}
	assert.Equal(t, "BucketSync 1.2.0 (abc123) go1.23.6 linux/amd64", info.String())
	assert.Equal(t, "1.2.0", info.Short())

	info.Modified = true
	info.BuildDate = "2026-01-02T03:04:05Z"
	assert.Equal(t, "BucketSync 1.2.0 (abc123, modified) go1.23.6 linux/amd64 built 2026-01-02T03:04:05Z", info.String())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Revision)
	assert.True(t, strings.HasPrefix(info.String(), AppName+" "))
	assert.Equal(t, info, Get())
}
