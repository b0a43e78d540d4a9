package fwm

import (
	"net"
	"strings"
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

// S2: two flows sharing a key aggregate into one row; flows with
// distinct keys stay separate and the row with more bytes sorts first
// under a "desc bytes" fieldset.
func TestWindow_AggregatesByKey(t *testing.T) {
	cfg := Config{
		Name: "top_talkers",
		Fields: []FieldSpec{
			{Spec: specFor(t, "desc bytes"), SQLName: "octets"},
			{Spec: specFor(t, "src ip"), SQLName: "src_ip"},
		},
		DBType: DBPostgres,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(w.Process(0, recWithIPBytes("10.0.0.1", 100)))
	must(w.Process(0, recWithIPBytes("10.0.0.1", 50)))
	must(w.Process(0, recWithIPBytes("10.0.0.2", 500)))

	rows, others, hitLimit := w.SortAndDump()
	if hitLimit || others != nil {
		t.Fatal("expected no row limit to apply")
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 distinct groups, got %d", len(rows))
	}
	if rows[0].Values[0] != 500 {
		t.Fatalf("expected the 500-byte group to sort first (desc), got %d", rows[0].Values[0])
	}
	if rows[1].Values[0] != 150 {
		t.Fatalf("expected 10.0.0.1's two flows to sum to 150, got %d", rows[1].Values[0])
	}
}

func TestWindow_RowLimitProducesOthers(t *testing.T) {
	cfg := Config{
		Name: "top_talkers",
		Fields: []FieldSpec{
			{Spec: specFor(t, "desc bytes"), SQLName: "octets"},
			{Spec: specFor(t, "src ip"), SQLName: "src_ip"},
		},
		RowLimit: 1,
		DBType:   DBPostgres,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})

	w.Process(0, recWithIPBytes("10.0.0.1", 100))
	w.Process(0, recWithIPBytes("10.0.0.2", 500))
	w.Process(0, recWithIPBytes("10.0.0.3", 50))

	rows, others, hitLimit := w.SortAndDump()
	if !hitLimit || others == nil {
		t.Fatal("expected the row limit to be hit and an others row produced")
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 row within the limit, got %d", len(rows))
	}
	if rows[0].Values[0] != 500 {
		t.Fatalf("expected the top row to be the 500-byte group, got %d", rows[0].Values[0])
	}
	if others.Values[0] != 150 {
		t.Fatalf("expected others to sum the remaining 100+50=150, got %d", others.Values[0])
	}
}

func TestEmitSQL_ProducesInsert(t *testing.T) {
	cfg := Config{
		Name: "top_talkers",
		Fields: []FieldSpec{
			{Spec: specFor(t, "desc bytes"), SQLName: "octets"},
			{Spec: specFor(t, "src ip"), SQLName: "src_ip"},
		},
		DBType: DBPostgres,
	}
	w := New(cfg, 1, nil, fields.NilGeoStore{})
	w.Process(0, recWithIPBytes("10.0.0.1", 100))

	sql := w.EmitSQL("mo1", recWithIPBytes("10.0.0.1", 0).ReceivedAt)
	if sql == "" {
		t.Fatal("expected non-empty SQL output")
	}
	if !strings.Contains(sql, `create table if not exists "mo1_top_talkers"`) {
		t.Fatalf("expected CREATE TABLE statement, got: %s", sql)
	}
	if !strings.Contains(sql, `insert into "mo1_top_talkers"`) {
		t.Fatalf("expected INSERT statement, got: %s", sql)
	}
}
