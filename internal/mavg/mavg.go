// Package mavg implements the Moving Average / Limit Trigger engine
// (component F, spec.md §6): per key, each aggregate field tracks an
// exponentially-decayed moving average that is recalculated on every
// matching flow, and is checked against configured over/under-limit
// thresholds to drive a four-state violation machine (NEW -> UPDATE <->
// ALMOST_GONE -> GONE) that fires reactor actions and maintains a
// filesystem notification file per active violation.
//
// Grounded on original_source/monit-objects-mavg.c: mavg_recalc (the
// decay formula), mavg_val_init (per-key limit lookup with config
// defaults), mavg_limits_check/mavg_on_overlimit (threshold comparison
// and the overlimited-items database, here the NEW/UPDATE/ALMOST_GONE/
// GONE state machine), MAVG_LIM_CURR's double-buffered limit table (the
// live table swaps under hot-reload without disturbing in-flight
// per-key decayed values), and netflow.c's per-thread mavg_val storage
// (mv = v1 + sum of decayed values from every other thread, each
// thread's own cell only ever written by its own ingest thread).
package mavg

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"xenoflow/internal/fields"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/metrics"
)

// AggrField is one tracked aggregate field, with its scale factor
// (mavg_val_init's "val * fld->scale * flow->sampling_rate").
type AggrField struct {
	Spec  *fields.FieldSpec
	Scale uint64
}

// Limit is one configured over/under-limit rule for one aggregate field
// index, spec.md §6 "limit trigger".
type Limit struct {
	Name            string
	FieldIdx        int
	Default         uint64
	Back2NormTime   time.Duration
	ActionScript    string
	Back2NormScript string
	NotifyURL       string
	// ExtFWMs names sibling FWM instances (within the same MO) whose
	// Extended activation gate this limit drives, spec.md §4.8's
	// "mavg_limit_ext_stat -> ptr" link.
	ExtFWMs []string
}

// Config is one mo_mavg window's declared shape.
type Config struct {
	Name       string
	KeyFields  []*fields.FieldSpec
	Aggr       []AggrField
	WindowSize time.Duration
	Overlimit  []Limit
	Underlimit []Limit
}

// cell is one aggregate field's decayed value as tracked by a single
// ingest thread. Only the owning threadStore's own() caller ever writes
// a cell; every other thread only reads it via decayedPeek, so val/
// timeNs are plain atomics rather than anything mutex-guarded —
// Invariant 4's "the hot dispatcher never blocks".
type cell struct {
	val    atomic.Uint64
	timeNs atomic.Int64
}

// threadStore is one ingest thread's private key -> per-aggregate-cell
// table. mu guards only the map structure (creating a new key's row);
// the cell values inside an existing row are read/written without it.
type threadStore struct {
	mu    sync.Mutex
	cells map[string][]*cell
}

func newThreadStore() *threadStore {
	return &threadStore{cells: make(map[string][]*cell)}
}

// own returns this thread's private row for key, creating it (all-zero
// cells) on first touch. Only the thread that owns this store calls own.
func (s *threadStore) own(key string, n int) []*cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.cells[key]
	if !ok {
		row = make([]*cell, n)
		for i := range row {
			row[i] = &cell{}
		}
		s.cells[key] = row
	}
	return row
}

// peek returns another thread's row for key without creating one, used
// only for the cross-thread merge read.
func (s *threadStore) peek(key string) ([]*cell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.cells[key]
	return row, ok
}

func (s *threadStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cells))
	for k := range s.cells {
		out = append(out, k)
	}
	return out
}

func (s *threadStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cells, key)
}

// violationPhase is one (key, limit)'s place in spec.md §3/§4.6/
// Invariant 5's four-state violation machine.
type violationPhase int

const (
	phaseNone violationPhase = iota
	phaseNew
	phaseUpdate
	phaseAlmostGone
)

// violState is one (key, limit) pair's violation tracking. almostSince
// is the unix-nanosecond time the pair entered ALMOST_GONE, read against
// the limit's Back2NormTime dwell before a GONE transition is allowed to
// fire back-to-normal.
type violState struct {
	mu          sync.Mutex
	phase       violationPhase
	almostSince int64
}

// Window runs one MAVG engine instance. Per Invariant 4, each ingest
// thread owns one threadStore and only ever writes into its own: the
// merged value a limit check compares against is the sum of every
// thread's (possibly stale, decayed-on-read) contribution.
type Window struct {
	cfg  Config
	freq *fields.FreqTable
	geo  fields.GeoStore

	threads []*threadStore

	violMu sync.Mutex
	over   map[string][]*violState
	under  map[string][]*violState

	limitsMu   sync.RWMutex
	overlimit  []Limit
	underlimit []Limit

	notifMu  sync.Mutex
	moPath   string
	notifDir string

	Reactor Reactor
}

// Reactor is called on an overlimit/underlimit transition, spec.md §6
// "reactor task". ScriptReactor (launcher scripts plus the optional
// notify webhook) and internal/mo's extReactor implement this.
type Reactor interface {
	Fire(ctx FireContext)
}

// FireContext describes one limit transition.
type FireContext struct {
	Window       string
	Key          []byte
	FieldIdx     int
	Value        uint64
	Limit        uint64
	Over         bool // true = overlimit/underlimit just engaged, false = back-to-normal
	ActionScript string
	NotifyURL    string
	LimitName    string
	ExtFWMs      []string
}

// New creates a Window with one threadStore per ingest thread.
func New(cfg Config, nthreads int, freq *fields.FreqTable, geo fields.GeoStore) *Window {
	w := &Window{
		cfg:        cfg,
		freq:       freq,
		geo:        geo,
		threads:    make([]*threadStore, nthreads),
		over:       make(map[string][]*violState),
		under:      make(map[string][]*violState),
		overlimit:  cfg.Overlimit,
		underlimit: cfg.Underlimit,
	}
	for i := range w.threads {
		w.threads[i] = newThreadStore()
	}
	return w
}

// SetFreqGeo wires the shared process-wide frequency table and geoip
// store into this window, applied by mo.Tree.SetFreqGeo after Load
// since those dependencies live one layer above mo.Load's caller.
func (w *Window) SetFreqGeo(freq *fields.FreqTable, geo fields.GeoStore) {
	w.freq = freq
	w.geo = geo
}

// SetNotifDir wires the notification-file root and this MO's own path
// into the window, applied by mo.Tree.SetNotifDir after Load the same
// way internal/clsf.Window.SetDir is applied: the bootstrap config's
// notifications-dir lives one layer above mo.Load's caller.
func (w *Window) SetNotifDir(moPath, dir string) {
	w.notifMu.Lock()
	w.moPath = moPath
	w.notifDir = dir
	w.notifMu.Unlock()
}

// recalc implements mavg_recalc's decay formula: if the time since the
// last update is within the window, blend the old value down by the
// elapsed fraction of the window and add the new sample; otherwise the
// window has fully elapsed and the new sample replaces the average
// outright.
func recalc(oldVal uint64, oldTimeNs int64, val uint64, timeNs int64, windowNs int64) uint64 {
	tmdiff := timeNs - oldTimeNs
	if tmdiff < windowNs && windowNs > 0 {
		decayed := oldVal - uint64(float64(tmdiff)/float64(windowNs)*float64(oldVal))
		return decayed + val
	}
	return val
}

// decayedPeek computes c's value decayed forward to now without
// mutating it: Invariant 4's "decayed_value_from_other_threads" term. A
// thread merging another thread's last sample only ever extrapolates its
// decay; it never injects a replacement sample on that thread's behalf,
// since no new flow arrived on that thread to justify one.
func decayedPeek(c *cell, nowNs int64, windowNs int64) uint64 {
	val := c.val.Load()
	if val == 0 {
		return 0
	}
	t := c.timeNs.Load()
	tmdiff := nowNs - t
	if tmdiff < 0 {
		tmdiff = 0
	}
	if windowNs <= 0 || tmdiff >= windowNs {
		return 0
	}
	return val - uint64(float64(tmdiff)/float64(windowNs)*float64(val))
}

// mergedValue sums every ingest thread's decayed contribution for key's
// aggregate field aggrIdx as of nowNs.
func (w *Window) mergedValue(key string, aggrIdx int, nowNs int64) uint64 {
	windowNs := w.cfg.WindowSize.Nanoseconds()
	var sum uint64
	for _, t := range w.threads {
		row, ok := t.peek(key)
		if !ok || aggrIdx >= len(row) {
			continue
		}
		sum += decayedPeek(row[aggrIdx], nowNs, windowNs)
	}
	return sum
}

func (w *Window) buildKey(r *flowrec.Record) []byte {
	key := make([]byte, 0, 32)
	for _, fs := range w.cfg.KeyFields {
		v, _ := fields.Eval(fs, r, w.freq, w.geo)
		key = append(key, v...)
	}
	return key
}

// Process recalculates every aggregate field's moving average for r's
// key under threadIdx's own thread store, then checks the merged value
// against the live overlimit table. Underlimit is deliberately not
// checked here: spec.md §4.6 requires a once-per-second background sweep
// instead (CheckUnderlimits), since a key that stops sending flow
// entirely can never be caught by a flow-driven path.
func (w *Window) Process(threadIdx int, r *flowrec.Record) {
	key := w.buildKey(r)
	now := r.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}
	nowNs := now.UnixNano()
	windowNs := w.cfg.WindowSize.Nanoseconds()

	row := w.threads[threadIdx].own(string(key), len(w.cfg.Aggr))
	for i, af := range w.cfg.Aggr {
		raw, _ := fields.Eval(af.Spec, r, w.freq, w.geo)
		sample := fields.Uint64At(raw, af.Spec.Size()) * af.Scale
		c := row[i]
		newVal := recalc(c.val.Load(), c.timeNs.Load(), sample, nowNs, windowNs)
		c.val.Store(newVal)
		c.timeNs.Store(nowNs)
	}

	w.limitsMu.RLock()
	limits := w.overlimit
	w.limitsMu.RUnlock()
	w.evaluate(w.over, "over", key, limits, nowNs)
}

// CheckUnderlimits re-evaluates every key known to any ingest thread
// against the live underlimit table, spec.md §4.6's "underlimit checker
// task (once per second)". Called once a second by internal/dumper.
func (w *Window) CheckUnderlimits(now time.Time) {
	w.limitsMu.RLock()
	limits := w.underlimit
	w.limitsMu.RUnlock()
	if len(limits) == 0 {
		return
	}

	nowNs := now.UnixNano()
	seen := make(map[string]struct{})
	for _, t := range w.threads {
		for _, k := range t.keys() {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			w.evaluate(w.under, "under", []byte(k), limits, nowNs)
		}
	}
}

// violFor returns (creating if needed) the violState for key's j'th
// entry in table, the per-(key,limit) slot the NEW/UPDATE/ALMOST_GONE/
// GONE machine lives in.
func (w *Window) violFor(table map[string][]*violState, key string, n, j int) *violState {
	w.violMu.Lock()
	defer w.violMu.Unlock()
	row, ok := table[key]
	if !ok || len(row) != n {
		row = make([]*violState, n)
		for i := range row {
			row[i] = &violState{}
		}
		table[key] = row
	}
	return row[j]
}

// evaluate computes each limit's merged current value for key and drives
// its violState through the state machine, firing on NEW and on GONE.
func (w *Window) evaluate(table map[string][]*violState, kind string, key []byte, limits []Limit, nowNs int64) {
	if len(limits) == 0 {
		return
	}
	keyStr := string(key)
	for j, lim := range limits {
		val := w.mergedValue(keyStr, lim.FieldIdx, nowNs)
		var violating bool
		if kind == "over" {
			violating = val >= lim.Default
		} else {
			violating = val <= lim.Default
		}
		vs := w.violFor(table, keyStr, len(limits), j)
		w.transition(vs, kind, key, lim, val, violating, nowNs)
	}
}

// transition implements the NEW -> UPDATE <-> ALMOST_GONE -> GONE
// machine (Invariant 5): a first crossing fires NEW; repeated crossings
// stay UPDATE with no refire; dropping below the threshold moves to
// ALMOST_GONE and starts the Back2NormTime dwell; a renewed crossing
// before the dwell elapses reverts to UPDATE without ever firing
// back-to-normal; once the dwell elapses while still clear, GONE fires
// back-to-normal and the pair resets to None, ready to become NEW again.
func (w *Window) transition(vs *violState, kind string, key []byte, lim Limit, val uint64, violating bool, nowNs int64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	switch vs.phase {
	case phaseNone:
		if violating {
			vs.phase = phaseNew
			w.fire(kind, key, lim, val, true)
		}
	case phaseNew, phaseUpdate:
		if violating {
			vs.phase = phaseUpdate
		} else {
			vs.phase = phaseAlmostGone
			vs.almostSince = nowNs
		}
	case phaseAlmostGone:
		if violating {
			vs.phase = phaseUpdate
			vs.almostSince = 0
		} else if nowNs-vs.almostSince >= lim.Back2NormTime.Nanoseconds() {
			vs.phase = phaseNone
			vs.almostSince = 0
			w.fire(kind, key, lim, val, false)
		}
	}
}

func (w *Window) fire(kind string, key []byte, lim Limit, val uint64, over bool) {
	if kind == "over" {
		metrics.MAVGOverlimitTransitions.WithLabelValues(w.cfg.Name).Inc()
	} else {
		metrics.MAVGUnderlimitTransitions.WithLabelValues(w.cfg.Name).Inc()
	}

	w.writeNotif(lim, key, over)

	if w.Reactor == nil {
		return
	}
	script := lim.ActionScript
	if !over {
		script = lim.Back2NormScript
	}
	w.Reactor.Fire(FireContext{
		Window:       w.cfg.Name,
		Key:          append([]byte(nil), key...),
		FieldIdx:     lim.FieldIdx,
		Value:        val,
		Limit:        lim.Default,
		Over:         over,
		ActionScript: script,
		NotifyURL:    lim.NotifyURL,
		LimitName:    lim.Name,
		ExtFWMs:      lim.ExtFWMs,
	})
}

// writeNotif creates or unlinks spec.md §6's notification file:
// "{notif-dir}/<mo>/<mavg>-<limit>-<key-dashed>". Presence of the file
// signals an active violation; it is unlinked on back-to-normal. A
// window with no notifications-dir configured (notifDir == "") is a
// silent no-op, the same convention internal/clsf.Window.DumpDir uses
// for an unset Dir.
func (w *Window) writeNotif(lim Limit, key []byte, over bool) {
	w.notifMu.Lock()
	dir, moPath := w.notifDir, w.moPath
	w.notifMu.Unlock()
	if dir == "" {
		return
	}

	moDir := filepath.Join(dir, moPath)
	name := fmt.Sprintf("%s-%s-%s", w.cfg.Name, lim.Name, renderKey(w.cfg.KeyFields, key))
	path := filepath.Join(moDir, name)

	if over {
		if err := os.MkdirAll(moDir, 0o755); err != nil {
			logrus.WithError(err).Warn("mavg: failed to create notification dir")
			return
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			logrus.WithError(err).Warn("mavg: failed to write notification file")
		}
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("mavg: failed to remove notification file")
	}
}

// UpdateLimits swaps in a new limit table without disturbing any key's
// decayed values, mirroring MAVG_LIM_CURR's reload semantics (spec.md
// §9's "hot reload must not reset in-flight counters").
func (w *Window) UpdateLimits(overlimit, underlimit []Limit) {
	w.limitsMu.Lock()
	w.overlimit = overlimit
	w.underlimit = underlimit
	w.limitsMu.Unlock()
}

// Snapshot returns (keyBytes, value) pairs for aggrIdx across all known
// keys, for internal/adminapi's per-window dump endpoint.
func (w *Window) Snapshot(aggrIdx int) [][2]interface{} {
	nowNs := time.Now().UnixNano()
	seen := make(map[string]struct{})
	var out [][2]interface{}
	for _, t := range w.threads {
		for _, k := range t.keys() {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, [2]interface{}{k, w.mergedValue(k, aggrIdx, nowNs)})
		}
	}
	return out
}

// Reclaim drops key state untouched since cutoff across every thread's
// store, bounding memory when the key space is unbounded (e.g.
// per-source-IP tracking) — spec.md §6's "arena-full reclaim",
// generalized here to a time-based sweep since this store has no fixed
// arena to overflow.
func (w *Window) Reclaim(cutoff time.Time) int {
	cutoffNs := cutoff.UnixNano()
	seen := make(map[string]struct{})
	n := 0
	for _, t := range w.threads {
		for _, k := range t.keys() {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}

			stale := true
			for _, t2 := range w.threads {
				row, ok := t2.peek(k)
				if !ok {
					continue
				}
				for _, c := range row {
					if c.timeNs.Load() >= cutoffNs {
						stale = false
						break
					}
				}
				if !stale {
					break
				}
			}
			if stale {
				for _, t2 := range w.threads {
					t2.delete(k)
				}
				n++
			}
		}
	}
	return n
}
