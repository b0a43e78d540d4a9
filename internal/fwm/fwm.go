// Package fwm implements the Fixed Window Merge engine (component E,
// spec.md §5): flows are grouped by a declared set of key fields and
// aggregated (sum) over a declared set of value fields inside a fixed
// time window; at window boundary the per-thread accumulations are
// merged, sorted by aggregate value, row-limited with an "others" catch
// bucket, and emitted as SQL insert statements (and, optionally, written
// directly to Postgres via pgx).
//
// Grounded on original_source/monit-objects-fwm.c: fwm_fields_init (per-
// thread key/value sizing and bank creation), the accumulation loop
// implied by fwm_merge_tr's get-add-put pattern, fwm_sort_and_dump
// (rebuilding a sort key in declared field order, aggregate fields as
// big-endian sums, descending fields bit-inverted), and fwm_dump (SQL
// CREATE TABLE + INSERT generation, row limit + "others" row).
package fwm

import (
	"fmt"
	"time"

	"xenoflow/internal/bank"
	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/metrics"
	"xenoflow/internal/okvs"
)

// FieldSpec pairs a parsed fields.FieldSpec with the SQL column name the
// original source tracks alongside it (fld->sql_name).
type FieldSpec struct {
	Spec    *fields.FieldSpec
	SQLName string
}

// Config is one mo_fwm window's declared shape.
type Config struct {
	Name       string
	Fields     []FieldSpec // declared order; mixes key and value fields
	RowLimit   int         // 0 = unlimited
	DontIndex  bool
	DBType     DBType
	ClickHouse ClickHouseOpts
	// Direct, when true and DBType is DBPostgres, additionally batch-
	// inserts each flush through internal/export's pgx sink instead of
	// only handing the .sql text off to an exporter script. A SPEC_FULL
	// addition beyond original_source, which only ever wrote files.
	Direct bool
}

type DBType int

const (
	DBPostgres DBType = iota
	DBClickHouse
)

type ClickHouseOpts struct {
	Codec string
}

// Window runs one FWM engine instance: nthreads independent banks feeding
// flows, merged and dumped on each flush.
type Window struct {
	cfg     Config
	keys    []FieldSpec // Fields where Spec.Aggregable() is false
	values  []FieldSpec // Fields where Spec.Aggregable() is true
	banks   []*bank.Bank
	freq    *fields.FreqTable
	geo     fields.GeoStore
}

// New creates a Window with one bank per ingest thread.
func New(cfg Config, nthreads int, freq *fields.FreqTable, geo fields.GeoStore) *Window {
	w := &Window{cfg: cfg, banks: make([]*bank.Bank, nthreads), freq: freq, geo: geo}
	for _, f := range cfg.Fields {
		if f.Spec.Aggregable() {
			w.values = append(w.values, f)
		} else {
			w.keys = append(w.keys, f)
		}
	}
	for i := range w.banks {
		w.banks[i] = bank.New(0)
	}
	return w
}

// Process accumulates one flow's contribution into threadIdx's active
// bank, spec.md §5 "per-flow submit".
func (w *Window) Process(threadIdx int, r *flowrec.Record) error {
	tr := w.banks[threadIdx].Active()

	key := make([]byte, 0, 64)
	for _, f := range w.keys {
		val, _ := fields.Eval(f.Spec, r, w.freq, w.geo)
		key = append(key, val...)
	}

	existing, err := tr.Get(key)
	sums := make([]uint64, len(w.values))
	if err == nil {
		for i := range sums {
			sums[i] = fields.Uint64At(existing[i*8:i*8+8], 8)
		}
	}
	for i, f := range w.values {
		v, _ := fields.Eval(f.Spec, r, w.freq, w.geo)
		sums[i] += fields.Uint64At(v, f.Spec.Size())
	}

	val := make([]byte, len(sums)*8)
	for i, s := range sums {
		fields.PutUint64At(val[i*8:i*8+8], s, 8)
	}
	return tr.Put(key, val)
}

// mergedRow is one group's key bytes plus its summed aggregate values,
// after merging every thread's bank.
type mergedRow struct {
	key  []byte
	vals []uint64
}

// merge swaps every thread's bank and folds the drained transactions
// into one map keyed by the grouping bytes, mirroring fwm_merge_tr's
// get-add-put loop across threads.
func (w *Window) merge() []mergedRow {
	merged := make(map[string][]uint64)

	for _, b := range w.banks {
		tr := b.Swap()
		metrics.BankSwaps.WithLabelValues("fwm").Inc()
		c := okvs.NewCursor(tr)
		for ok := c.First(); ok; ok = c.Next() {
			k := string(c.Key())
			v := c.Val()
			sums, exists := merged[k]
			if !exists {
				sums = make([]uint64, len(w.values))
				merged[k] = sums
			}
			for i := range sums {
				sums[i] += fields.Uint64At(v[i*8:i*8+8], 8)
			}
		}
		b.Reset(tr)
	}

	rows := make([]mergedRow, 0, len(merged))
	for k, v := range merged {
		rows = append(rows, mergedRow{key: []byte(k), vals: v})
	}
	return rows
}

// sortKey builds the byte string fwm_sort_and_dump's cursor ultimately
// sorts by: declared field order, aggregate fields rendered as an
// 8-byte big-endian sum and key fields copied verbatim from the group's
// key bytes, each bit-complemented when the field is descending.
func (w *Window) sortKey(row mergedRow) []byte {
	out := make([]byte, 0, len(row.key)+8*len(row.vals))
	keyOff := 0
	valIdx := 0

	for _, f := range w.cfg.Fields {
		if f.Spec.Aggregable() {
			b := make([]byte, 8)
			fields.PutUint64At(b, row.vals[valIdx], 8)
			valIdx++
			out = append(out, invertIf(b, f.Spec.Descending)...)
		} else {
			n := f.Spec.Size()
			b := row.key[keyOff : keyOff+n]
			keyOff += n
			out = append(out, invertIf(b, f.Spec.Descending)...)
		}
	}
	return out
}

func invertIf(b []byte, desc bool) []byte {
	if !desc {
		return append([]byte(nil), b...)
	}
	inv := make([]byte, len(b))
	for i, c := range b {
		inv[i] = ^c
	}
	return inv
}

// Row is one dump-ready group: rendered key field values plus summed
// aggregate values, in declared field order for each half.
type Row struct {
	KeyFields []RenderedField
	Values    []uint64
}

// RenderedField is one non-aggregable field's raw bytes plus its
// descriptor, ready for SQL rendering.
type RenderedField struct {
	Spec *fields.FieldSpec
	Name string
	Raw  []byte
}

// SortAndDump merges every thread's bank, sorts groups by aggregate value
// (descending fields naturally sort first because their stored bytes are
// bit-inverted), applies the row limit with an "others" catch-all row,
// and returns the ready-to-render rows plus whether an others row was
// produced.
func (w *Window) SortAndDump() ([]Row, *Row, bool) {
	rows := w.merge()
	if len(rows) == 0 {
		return nil, nil, false
	}

	type sorted struct {
		row mergedRow
		sk  []byte
	}
	sRows := make([]sorted, len(rows))
	for i, r := range rows {
		sRows[i] = sorted{row: r, sk: w.sortKey(r)}
	}
	// Ascending byte order over the sort key reproduces the original
	// cursor's iteration order, since descending fields are already
	// bit-inverted into that key.
	for i := 1; i < len(sRows); i++ {
		for j := i; j > 0 && string(sRows[j].sk) < string(sRows[j-1].sk); j-- {
			sRows[j], sRows[j-1] = sRows[j-1], sRows[j]
		}
	}

	limit := len(sRows)
	hitLimit := false
	if w.cfg.RowLimit > 0 && len(sRows) > w.cfg.RowLimit {
		limit = w.cfg.RowLimit
		hitLimit = true
	}

	out := make([]Row, 0, limit)
	for _, sr := range sRows[:limit] {
		out = append(out, w.renderRow(sr.row))
	}

	if !hitLimit {
		return out, nil, false
	}

	others := make([]uint64, len(w.values))
	for _, sr := range sRows[limit:] {
		for i := range others {
			others[i] += sr.row.vals[i]
		}
	}
	otherRow := &Row{Values: others}
	return out, otherRow, true
}

func (w *Window) renderRow(row mergedRow) Row {
	r := Row{Values: row.vals}
	off := 0
	for _, f := range w.keys {
		n := f.Spec.Size()
		r.KeyFields = append(r.KeyFields, RenderedField{
			Spec: f.Spec, Name: f.SQLName, Raw: row.key[off : off+n],
		})
		off += n
	}
	return r
}

// AggregateColumnNames returns the SQL column names of the value fields,
// in declared order.
func (w *Window) AggregateColumnNames() []string {
	names := make([]string, len(w.values))
	for i, f := range w.values {
		names[i] = f.SQLName
	}
	return names
}

// TableName mirrors fwm_dump's sprintf(table_name, "%s_%s", mo_name, fwm->name).
func (w *Window) TableName(moName string) string {
	return fmt.Sprintf("%s_%s", moName, w.cfg.Name)
}

// Direct reports whether this window is configured for the additional
// pgx direct-write sink (internal/export), alongside its mandatory SQL
// file emission.
func (w *Window) Direct() bool { return w.cfg.Direct }

// SetFreqGeo wires the shared process-wide frequency table and geoip
// store into this window, applied by mo.Tree.SetFreqGeo after Load
// since those dependencies live one layer above mo.Load's caller.
func (w *Window) SetFreqGeo(freq *fields.FreqTable, geo fields.GeoStore) {
	w.freq = freq
	w.geo = geo
}

// EmitTime is the wall-clock timestamp fwm_dump stamps every row with —
// one flush call uses one consistent timestamp for all its rows.
type EmitTime = time.Time
