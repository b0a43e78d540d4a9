package corectx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"xenoflow/internal/appconfig"
	"xenoflow/internal/fields"
)

func TestNew_DefaultsToNilGeoStore(t *testing.T) {
	ctx, err := New(&appconfig.Config{}, appconfig.DefaultTuning(), nil)
	require.NoError(t, err)
	require.Equal(t, "?", ctx.Geo.Country(nil))
}

func TestNew_LoadsIPListsWhenDirConfigured(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/blocklist", []byte("10.0.0.0/8\n"), 0o644))

	ctx, err := New(&appconfig.Config{IPListsDir: dir}, appconfig.DefaultTuning(), fields.NilGeoStore{})
	require.NoError(t, err)
	require.NotNil(t, ctx.IP)
	require.NotNil(t, ctx.IP.Get("blocklist"))
}

func TestReloadRequested_ConsumesFlagOnce(t *testing.T) {
	ctx, err := New(&appconfig.Config{}, appconfig.DefaultTuning(), nil)
	require.NoError(t, err)

	require.False(t, ctx.ReloadRequested())
	ctx.reloadRequested.Store(true)
	require.True(t, ctx.ReloadRequested())
	require.False(t, ctx.ReloadRequested())
}
