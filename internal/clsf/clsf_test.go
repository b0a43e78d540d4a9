package clsf

import (
	"net"
	"os"
	"testing"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
)

func specFor(t *testing.T, s string) *fields.FieldSpec {
	t.Helper()
	fs, err := fields.ParseFieldSpec(s)
	if err != nil {
		t.Fatalf("ParseFieldSpec(%q): %v", s, err)
	}
	return fs
}

func recWithIPBytes(src string, bytes uint64) *flowrec.Record {
	r := &flowrec.Record{}
	r.SrcAddr4.Set(net.ParseIP(src).To4())
	b := make([]byte, 8)
	fields.PutUint64At(b, bytes, 8)
	r.Bytes.Set(b)
	return r
}

// S5: a handful of source IPs, one clearly dominant by bytes; a 50%
// top-percent cutoff should stop after the dominant group alone since it
// already carries more than half the total.
func TestWindow_ClassifyStopsAtTopPercent(t *testing.T) {
	cfg := Config{
		Name:        "top_sources",
		ID:          1,
		Val:         specFor(t, "bytes"),
		Descending:  true,
		Fields:      []*fields.FieldSpec{specFor(t, "src ip")},
		TopPercents: 50,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})

	w.Process(0, recWithIPBytes("10.0.0.1", 900))
	w.Process(0, recWithIPBytes("10.0.0.2", 50))
	w.Process(0, recWithIPBytes("10.0.0.3", 50))

	classes := w.Classify()
	if len(classes) != 1 {
		t.Fatalf("expected the 50%% cutoff to stop after the single dominant group, got %d classes", len(classes))
	}
	if classes[0].Sum != 900 {
		t.Fatalf("expected the dominant group's sum to be 900, got %d", classes[0].Sum)
	}
	if classes[0].ClassName != "10.0.0.1" {
		t.Fatalf("expected class name '10.0.0.1', got %q", classes[0].ClassName)
	}
}

func TestWindow_ClassifyCoversAllOn100Percent(t *testing.T) {
	cfg := Config{
		Name:        "top_sources",
		ID:          1,
		Val:         specFor(t, "bytes"),
		Descending:  true,
		Fields:      []*fields.FieldSpec{specFor(t, "src ip")},
		TopPercents: 100,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})

	w.Process(0, recWithIPBytes("10.0.0.1", 900))
	w.Process(0, recWithIPBytes("10.0.0.2", 100))

	classes := w.Classify()
	if len(classes) != 2 {
		t.Fatalf("expected a 100%% cutoff to walk every group, got %d", len(classes))
	}
	if classes[0].Sum != 900 || classes[1].Sum != 100 {
		t.Fatalf("expected groups ordered by descending sum, got %+v", classes)
	}
}

func TestWindow_DumpDirWritesNameAndStats(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Name:        "top_sources",
		ID:          3,
		Val:         specFor(t, "bytes"),
		Descending:  true,
		Fields:      []*fields.FieldSpec{specFor(t, "src ip")},
		TopPercents: 100,
		Dir:         dir,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})
	w.Process(0, recWithIPBytes("10.0.0.1", 900))

	classes := w.Classify()
	if err := w.DumpDir("top_sources", classes); err != nil {
		t.Fatalf("DumpDir: %v", err)
	}

	namePath := dir + "/top_sources/3/10.0.0.1/name"
	b, err := os.ReadFile(namePath)
	if err != nil {
		t.Fatalf("reading %s: %v", namePath, err)
	}
	if string(b) != "10.0.0.1" {
		t.Fatalf("expected class name file to contain '10.0.0.1', got %q", string(b))
	}

	statsPath := dir + "/top_sources/3/10.0.0.1/stats"
	if _, err := os.Stat(statsPath); err != nil {
		t.Fatalf("expected stats file to exist: %v", err)
	}
}

// S6 (extended): a class dumped to disk should round-trip through Reload
// into a live reverse-lookup hit that stamps ClassName on the next flow
// carrying the same key.
func TestWindow_ReloadPopulatesReverseLookup(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Name:        "top_sources",
		ID:          3,
		Val:         specFor(t, "bytes"),
		Descending:  true,
		Fields:      []*fields.FieldSpec{specFor(t, "src ip")},
		TopPercents: 100,
		Dir:         dir,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})
	w.Process(0, recWithIPBytes("10.0.0.1", 900))

	classes := w.Classify()
	if err := w.DumpDir("top_sources", classes); err != nil {
		t.Fatalf("DumpDir: %v", err)
	}

	w2 := New(cfg, 1, nil, fields.NilGeoStore{})
	if err := w2.Reload("top_sources"); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	r := recWithIPBytes("10.0.0.1", 1)
	if err := w2.Process(0, r); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if r.ClassName != "10.0.0.1" {
		t.Fatalf("expected reverse lookup to stamp ClassName '10.0.0.1', got %q", r.ClassName)
	}
}

func TestWindow_ReloadMissingDirIsNotAnError(t *testing.T) {
	cfg := Config{
		Name:   "top_sources",
		ID:     9,
		Val:    specFor(t, "bytes"),
		Fields: []*fields.FieldSpec{specFor(t, "src ip")},
		Dir:    t.TempDir(),
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})
	if err := w.Reload("never_dumped"); err != nil {
		t.Fatalf("Reload on a never-dumped mo should be a no-op, got %v", err)
	}
}

func TestWindow_NoFlowsProducesNoClasses(t *testing.T) {
	cfg := Config{
		Val:         specFor(t, "bytes"),
		Fields:      []*fields.FieldSpec{specFor(t, "src ip")},
		TopPercents: 50,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})
	if got := w.Classify(); got != nil {
		t.Fatalf("expected no classes with no processed flows, got %v", got)
	}
}
