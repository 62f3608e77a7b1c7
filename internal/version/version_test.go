package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	info := resolve(func() (*debug.BuildInfo, bool) { return bi, true })

	assert.Equal(t, "v0.3.1", info.Version)
	assert.Equal(t, "0123456789abcdef0123", info.Commit)
	assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildTime)
	assert.Equal(t, "go1.26.0", info.GoVersion)
	assert.True(t, info.Modified)
}

func TestResolveLinkerValuesWin(t *testing.T) {
	Version, Commit = "v1.0.0", "cafebabe"
	t.Cleanup(func() { Version, Commit = "", "" })

	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "v0.0.1"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "deadbeef"}},
	}
	info := resolve(func() (*debug.BuildInfo, bool) { return bi, true })
	assert.Equal(t, "v1.0.0", info.Version)
	assert.Equal(t, "cafebabe", info.Commit)
}

func TestResolveDevelFallsBack(t *testing.T) {
	bi := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	info := resolve(func() (*debug.BuildInfo, bool) { return bi, true })
	assert.Contains(t, info.Version, "dev-")

	info = resolve(func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Contains(t, info.Version, "dev-")
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "abc", shortCommit("abc"))
	assert.Equal(t, "0123456789ab", shortCommit("0123456789abcdef"))
}
