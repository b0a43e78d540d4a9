package dumper

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/mo"
)

func recWithSrcAndBytes(src string, bytes uint64) *flowrec.Record {
	r := &flowrec.Record{}
	r.SrcAddr4.Set(net.ParseIP(src).To4())
	b := make([]byte, 8)
	fields.PutUint64At(b, bytes, 8)
	r.Bytes.Set(b)
	return r
}

func writeConf(t *testing.T, dir, rel, body string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestTick_DumpsFWMAndCLSFWhenIntervalElapsed(t *testing.T) {
	moDir := t.TempDir()
	writeConf(t, moDir, "top_talkers/mo.conf", `{
		"filter": "src host 10.0.0.1",
		"fwm": [ { "name": "bytes_by_src", "fields": ["desc bytes", "src ip"], "time": 1, "limit": 100 } ],
		"classification": [ { "id": 1, "fields": ["src ip"], "val": "bytes", "time": 1, "top-percents": 80 } ]
	}`)

	tree, err := mo.Load(moDir, 1)
	require.NoError(t, err)

	n := tree.Root[0]
	require.NoError(t, n.FWMs[0].Window.Process(0, recWithSrcAndBytes("10.0.0.1", 500)))
	require.NoError(t, n.CLSFs[0].Window.Process(0, recWithSrcAndBytes("10.0.0.1", 500)))

	clsfDir := t.TempDir()
	tree.SetCLSFDir(clsfDir)

	exportDir := t.TempDir()
	c := New(tree, exportDir, "", nil, nil)

	now := time.Unix(1000, 0)
	c.Tick(context.Background(), now)

	entries, err := os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "top_talkers_bytes_by_src_1000.sql", entries[0].Name())

	// A second tick before the 1-second interval elapses again must not
	// produce a duplicate file.
	c.Tick(context.Background(), now)
	entries, err = os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, n.FWMs[0].Window.Process(0, recWithSrcAndBytes("10.0.0.2", 200)))

	later := now.Add(2 * time.Second)
	c.Tick(context.Background(), later)
	entries, err = os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestDueToDump_ZeroIntervalNeverFires(t *testing.T) {
	f := &mo.FWMInstance{}
	require.False(t, f.DueToDump(time.Now()))

	cl := &mo.CLSFInstance{}
	require.False(t, cl.DueToDump(time.Now()))
}
