// Package clsf implements the Top-K Classification engine (component G,
// spec.md §7): flows are grouped by a declared set of key fields and
// summed over a single ranking field; at dump time groups are sorted by
// that sum (descending fields bit-inverted, same convention as fwm) and
// walked from the largest group down, accumulating a running percentage
// of the total until a configured cutoff is reached. Every group visited
// before the cutoff is written to a filesystem reverse-lookup directory
// so an operator (or another process) can map a class id back to the
// flow attributes that produced it.
//
// Grounded on original_source/classification.c: classification_dump's
// two-pass sum-then-cumulative-percent loop, update_clsf_dir's directory
// layout (<dir>/<mo_name>/<class_id>/<class_dir>/{name,stats}), and
// classification_sort_dump's per-thread merge (structurally the same
// get-add-put pattern as fwm_merge_tr).
package clsf

import (
	"sync/atomic"

	"xenoflow/internal/bank"
	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/metrics"
	"xenoflow/internal/okvs"
)

// Config is one mo_classification window's declared shape.
type Config struct {
	Name        string
	ID          int // class_id, used in the reverse-lookup directory path
	Val         *fields.FieldSpec
	Descending  bool // clsf->val->descending: whether Val ranks high-to-low
	Fields      []*fields.FieldSpec
	TopPercents int // classification_dump's clsf->top_percents cutoff, 1-100
	Dir         string
}

// Window runs one classification engine instance: nthreads independent
// banks accumulate a running sum per key, merged and classified on
// each flush.
type Window struct {
	cfg   Config
	banks []*bank.Bank
	freq  *fields.FreqTable
	geo   fields.GeoStore

	// reverse holds a map[string]string (raw key bytes -> class name),
	// rebuilt wholesale by Reload and read by Process on every flow.
	// atomic.Value so a concurrent reload never blocks or races the hot
	// per-flow lookup path.
	reverse atomic.Value
}

// New creates a Window with one bank per ingest thread.
func New(cfg Config, nthreads int, freq *fields.FreqTable, geo fields.GeoStore) *Window {
	w := &Window{cfg: cfg, banks: make([]*bank.Bank, nthreads), freq: freq, geo: geo}
	for i := range w.banks {
		w.banks[i] = bank.New(0)
	}
	return w
}

// SetDir sets the reverse-lookup directory root DumpDir writes under.
// mo.Load builds classification windows before the bootstrap config's
// clsf-dir is necessarily known to the caller, so the tree is built
// first and this is applied in a second pass (mo.Tree.SetCLSFDir).
func (w *Window) SetDir(dir string) { w.cfg.Dir = dir }

// SetFreqGeo wires the shared process-wide frequency table and geoip
// store into this window, applied by mo.Tree.SetFreqGeo after Load.
func (w *Window) SetFreqGeo(freq *fields.FreqTable, geo fields.GeoStore) {
	w.freq = freq
	w.geo = geo
}

// Process accumulates one flow's Val sample under its key into
// threadIdx's active bank.
func (w *Window) Process(threadIdx int, r *flowrec.Record) error {
	tr := w.banks[threadIdx].Active()

	key := make([]byte, 0, 32)
	for _, fs := range w.cfg.Fields {
		v, _ := fields.Eval(fs, r, w.freq, w.geo)
		key = append(key, v...)
	}

	if name, ok := w.ReverseLookup(key); ok {
		r.ClassName = name
	}

	sample, _ := fields.Eval(w.cfg.Val, r, w.freq, w.geo)
	delta := fields.Uint64At(sample, w.cfg.Val.Size())

	var sum uint64
	if existing, err := tr.Get(key); err == nil {
		sum = fields.Uint64At(existing, 8)
	}
	sum += delta

	val := make([]byte, 8)
	fields.PutUint64At(val, sum, 8)
	return tr.Put(key, val)
}

// merge swaps every thread's bank and folds the drained transactions
// into one key-to-sum map, the same get-add-put pattern fwm.Window.merge
// uses.
func (w *Window) merge() map[string]uint64 {
	merged := make(map[string]uint64)
	for _, b := range w.banks {
		tr := b.Swap()
		metrics.BankSwaps.WithLabelValues("clsf").Inc()
		c := okvs.NewCursor(tr)
		for ok := c.First(); ok; ok = c.Next() {
			merged[string(c.Key())] += fields.Uint64At(c.Val(), 8)
		}
		b.Reset(tr)
	}
	return merged
}

// Class is one group reached before the top-percent cutoff, ready for
// reverse-lookup directory emission.
type Class struct {
	Key       []byte // the raw, non-inverted naggr key bytes (as stored)
	ClassDir  string // slash-free path segment, classification_dump's class_dir
	ClassName string // comma-joined human readable value, class_name
	Sum       uint64 // this group's Val sum
	Total     uint64 // sum across every group (classification_dump's "sum")
}

// sortKey builds the byte string classification_dump's cursor already
// sorts by: the Val sum as an 8-byte big-endian value (bit-inverted when
// Descending), followed by the raw key bytes. The sum prefix alone
// determines iteration order; the key suffix only breaks ties.
func (w *Window) sortKey(key []byte, sum uint64) []byte {
	b := make([]byte, 8)
	fields.PutUint64At(b, sum, 8)
	sk := invertIf(b, w.cfg.Descending)
	return append(sk, key...)
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

// Classify merges every thread's bank, sorts groups by Val sum (the
// configured direction sorts largest-contributing groups first), and
// walks from the top accumulating a running percentage of the grand
// total until TopPercents is reached, mirroring classification_dump's
// two-pass sum-then-cutoff loop exactly (including its integer-division
// cutoff test, sumtmp*100/sum >= top_percents).
func (w *Window) Classify() []Class {
	merged := w.merge()
	if len(merged) == 0 {
		return nil
	}

	type row struct {
		key []byte
		sum uint64
		sk  []byte
	}
	rows := make([]row, 0, len(merged))
	var total uint64
	for k, s := range merged {
		rows = append(rows, row{key: []byte(k), sum: s, sk: w.sortKey([]byte(k), s)})
		total += s
	}

	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && string(rows[j].sk) < string(rows[j-1].sk); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}

	var out []Class
	var running uint64
	for _, r := range rows {
		running += r.sum
		dir, name := w.renderKey(r.key)
		out = append(out, Class{
			Key:       r.key,
			ClassDir:  dir,
			ClassName: name,
			Sum:       r.sum,
			Total:     total,
		})
		if total > 0 && (running*100/total) >= uint64(w.cfg.TopPercents) {
			break
		}
	}
	metrics.CLSFClassesEmitted.WithLabelValues(w.cfg.Name).Set(float64(len(out)))
	return out
}

// renderKey decodes the concatenated key fields into classification_dump's
// class_dir (hyphen-joined path segments) and class_name (comma-joined
// human readable string). The accumulation key stores every field's raw,
// un-inverted bytes (Process builds it with fields.Eval, the same
// convention fwm.Window.Process uses for its grouping key), so no
// un-inversion is needed here.
func (w *Window) renderKey(key []byte) (dir, name string) {
	off := 0
	for i, fs := range w.cfg.Fields {
		n := fs.Size()
		raw := key[off : off+n]
		off += n

		seg := renderField(fs, raw)
		if i > 0 {
			dir += "-"
			name += ","
		}
		dir += seg
		name += seg
	}
	return dir, name
}
