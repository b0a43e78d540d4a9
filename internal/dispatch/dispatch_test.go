package dispatch

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/mo"
)

func writeConf(t *testing.T, dir, rel, body string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func recWith(src string, bytes uint64, hasDNS bool) *flowrec.Record {
	r := &flowrec.Record{}
	r.SrcAddr4.Set(net.ParseIP(src).To4())
	b := make([]byte, 8)
	fields.PutUint64At(b, bytes, 8)
	r.Bytes.Set(b)
	r.HasDNS = hasDNS
	return r
}

// S1-adjacent: a matching flow reaches the MO's FWM; a non-matching flow
// is skipped entirely, and a child MO only ever sees flows its parent
// already matched.
func TestDispatch_FilterGatesAndRecurses(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "parent/mo.conf", `{
		"filter": "src host 10.0.0.1",
		"fwm": [ { "name": "all", "fields": ["desc bytes", "src ip"], "time": 60 } ]
	}`)
	writeConf(t, dir, "parent/child/mo.conf", `{
		"filter": "src host 10.0.0.1",
		"fwm": [ { "name": "child_all", "fields": ["desc bytes", "src ip"], "time": 60 } ]
	}`)

	tree, err := mo.Load(dir, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := New(tree, 0)

	d.Dispatch(context.Background(), recWith("10.0.0.1", 100, false))
	d.Dispatch(context.Background(), recWith("10.0.0.2", 999, false))

	parent := tree.Root[0]
	rows, _, _ := parent.FWMs[0].Window.SortAndDump()
	if len(rows) != 1 {
		t.Fatalf("expected exactly one matching flow to reach the parent FWM, got %d rows", len(rows))
	}
	if rows[0].Values[0] != 100 {
		t.Fatalf("expected the parent FWM to have summed 100 bytes, got %d", rows[0].Values[0])
	}

	child := parent.Children[0]
	childRows, _, _ := child.FWMs[0].Window.SortAndDump()
	if len(childRows) != 1 || childRows[0].Values[0] != 100 {
		t.Fatalf("expected the child FWM to see the same matched flow, got %+v", childRows)
	}
}

func TestDispatch_SkipsFWMRequiringDNSWithoutIt(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "mo1/mo.conf", `{
		"fwm": [ { "name": "by_dns", "fields": ["dns_name", "desc bytes"], "time": 60 } ]
	}`)

	tree, err := mo.Load(dir, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := New(tree, 0)

	d.Dispatch(context.Background(), recWith("10.0.0.1", 100, false))
	rows, _, _ := tree.Root[0].FWMs[0].Window.SortAndDump()
	if len(rows) != 0 {
		t.Fatalf("expected the DNS-requiring FWM to skip a flow with no sniffed DNS, got %d rows", len(rows))
	}

	d.Dispatch(context.Background(), recWith("10.0.0.1", 100, true))
	rows, _, _ = tree.Root[0].FWMs[0].Window.SortAndDump()
	if len(rows) != 1 {
		t.Fatalf("expected the DNS-requiring FWM to produce once HasDNS is set, got %d rows", len(rows))
	}
}

func TestDispatch_ExtendedFWMSkippedUntilActivated(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "mo1/mo.conf", `{
		"fwm": [ { "name": "ext", "fields": ["desc bytes", "src ip"], "time": 60, "extended": true } ]
	}`)

	tree, err := mo.Load(dir, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := New(tree, 0)

	d.Dispatch(context.Background(), recWith("10.0.0.1", 100, false))
	rows, _, _ := tree.Root[0].FWMs[0].Window.SortAndDump()
	if len(rows) != 0 {
		t.Fatalf("expected an inactive extended FWM to skip production, got %d rows", len(rows))
	}

	tree.Root[0].FWMs[0].SetActive(true)
	d.Dispatch(context.Background(), recWith("10.0.0.1", 100, false))
	rows, _, _ = tree.Root[0].FWMs[0].Window.SortAndDump()
	if len(rows) != 1 {
		t.Fatalf("expected production once the extended FWM is activated, got %d rows", len(rows))
	}
}
