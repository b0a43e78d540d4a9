package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesBootstrapConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xenoflow.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"mo-dir": "/etc/xenoflow/mo",
		"export-dir": "/var/lib/xenoflow/export",
		"clsf-dir": "/var/lib/xenoflow/clsf",
		"capture": [ { "socket": {"listen-on": "0.0.0.0", "port": 2055} } ],
		"templates": { "db": "/var/lib/xenoflow/templates.db", "allow-templates-in-future": true }
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/etc/xenoflow/mo", cfg.MODir)
	require.Len(t, cfg.Capture, 1)
	require.NotNil(t, cfg.Capture[0].Socket)
	require.Equal(t, 2055, cfg.Capture[0].Socket.Port)
	require.True(t, cfg.Templates.AllowTemplatesInFuture)
}

func TestLoadTuning_MissingFileUsesDefaults(t *testing.T) {
	tuning, err := LoadTuning(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultTuning(), tuning)
}

func TestLoadTuning_OverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reload_poll_ms: 25\n"), 0o644))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	require.Equal(t, 25, tuning.ReloadPollMillis)
	require.Equal(t, DefaultTuning().ReactorRatePerSec, tuning.ReactorRatePerSec)
}
