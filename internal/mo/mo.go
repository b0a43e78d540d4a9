// Package mo builds and holds the Monitoring Object tree (spec.md §3,
// §4.8/§4.9): a filesystem-rooted tree of filter-guarded analytics
// scopes, each owning its own FWM, MAVG, and CLSF engine instances plus
// child MOs. A child MO only ever sees flows its parent's filter has
// already matched, spec.md's "recurse into mo.children".
//
// Grounded on original_source/monit-objects.c's directory-scan load and
// config parse/merge, reshaped into an idiomatic Go JSON-config loader
// per SPEC_FULL's ambient config section (encoding/json, matching
// spec.md §6's documented wire shape exactly rather than the teacher's
// env-var bootstrap, since MO config is a filesystem tree of files, not
// flat process config).
package mo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"xenoflow/internal/clsf"
	"xenoflow/internal/fields"
	"xenoflow/internal/filter"
	"xenoflow/internal/fwm"
	"xenoflow/internal/mavg"
)

// Config is one mo.conf file's parsed JSON shape, spec.md §6.
type Config struct {
	Filter string `json:"filter"`
	Debug  struct {
		DumpFlows string `json:"dump-flows"`
	} `json:"debug"`
	FWM            []FWMConfig  `json:"fwm"`
	MAVG           []MAVGConfig `json:"mavg"`
	Classification []CLSFConfig `json:"classification"`
}

type FWMConfig struct {
	Name        string   `json:"name"`
	Fields      []string `json:"fields"`
	Time        int      `json:"time"` // seconds
	Limit       int      `json:"limit"`
	CreateIndex bool     `json:"create-index"`
	Extended    bool     `json:"extended"`
	// Direct enables the optional pgx direct-write sink (internal/export)
	// alongside the mandatory SQL file emission, SPEC_FULL §6.
	Direct bool `json:"direct"`
}

type MAVGLimit struct {
	Name            string   `json:"name"`
	Limits          string   `json:"limits"` // CSV path
	Default         []uint64 `json:"default"`
	ActionScript    string   `json:"action-script"`
	Back2NormScript string   `json:"back2norm-script"`
	Back2NormTime   int      `json:"back2norm-time"` // seconds
	Ext             []string `json:"ext"`
	// NotifyURL, when set, additionally delivers this limit's transitions
	// through internal/mavg/notify's webhook channel, a SPEC_FULL addition
	// beyond original_source's script-only reactor.
	NotifyURL string `json:"notify-url"`
}

type MAVGConfig struct {
	Name       string      `json:"name"`
	Fields     []string    `json:"fields"`
	Time       int         `json:"time"` // seconds, window size
	Dump       int         `json:"dump"`
	MemM       int         `json:"mem-m"`
	Overlimit  []MAVGLimit `json:"overlimit"`
	Underlimit []MAVGLimit `json:"underlimit"`
}

type CLSFConfig struct {
	ID          int      `json:"id"`
	Fields      []string `json:"fields"`
	Val         string   `json:"val"`
	Time        int      `json:"time"`
	TopPercents int      `json:"top-percents"`
}

// FWMInstance pairs a declared fwm.Window with the structural config that
// produced it (name, extended activation flag) so the dispatcher can
// gate and name it without re-deriving either from the window itself.
type FWMInstance struct {
	Name     string
	Window   *fwm.Window
	Extended bool
	// RequiresDNS/RequiresSNI mirror spec.md §4.8's "skip if requires_dns
	// and !flow.has_dns" gates: true when this FWM declares a dns_name,
	// dns_ip, or sni field, so producing it on a flow with no sniffed
	// value would only ever record an empty key.
	RequiresDNS bool
	RequiresSNI bool
	// active is the extended-FWM activation gate: 1 while some linked
	// MAVG limit is overlimit, 0 otherwise. Always 1 for non-extended
	// instances. Atomic so a MAVG reactor on another thread can flip it
	// without a lock, spec.md §4.8's "mavg_limit_ext_stat -> ptr" link.
	active atomic.Bool

	// DumpInterval is the declared "time" (seconds) between SQL exports,
	// spec.md §4.5's background merge period. Zero disables periodic
	// dumping (internal/dumper never fires it).
	DumpInterval time.Duration
	nextDump     atomic.Int64 // unix nanoseconds, 0 until first DueToDump
}

func (f *FWMInstance) SetActive(v bool) { f.active.Store(v) }
func (f *FWMInstance) Active() bool {
	if !f.Extended {
		return true
	}
	return f.active.Load()
}

// DueToDump reports whether this FWM's dump interval has elapsed as of
// now, advancing its internal deadline if so. Called from a single
// dumper goroutine's tick, so no further synchronization is needed
// beyond the atomic compare against a concurrent FindFWM reader.
func (f *FWMInstance) DueToDump(now time.Time) bool {
	if f.DumpInterval <= 0 {
		return false
	}
	next := f.nextDump.Load()
	if next != 0 && now.UnixNano() < next {
		return false
	}
	f.nextDump.Store(now.Add(f.DumpInterval).UnixNano())
	return true
}

// MAVGInstance pairs a declared mavg.Window with its name.
type MAVGInstance struct {
	Name   string
	Window *mavg.Window
}

// CLSFInstance pairs a declared clsf.Window with its name.
type CLSFInstance struct {
	Name   string
	Window *clsf.Window

	// DumpInterval is the declared "time" (seconds) between background
	// merges, spec.md §4.7.
	DumpInterval time.Duration
	nextDump     atomic.Int64
}

// DueToDump reports whether this CLSF's merge interval has elapsed,
// the same first-tick-fires-immediately convention as FWMInstance.
func (c *CLSFInstance) DueToDump(now time.Time) bool {
	if c.DumpInterval <= 0 {
		return false
	}
	next := c.nextDump.Load()
	if next != 0 && now.UnixNano() < next {
		return false
	}
	c.nextDump.Store(now.Add(c.DumpInterval).UnixNano())
	return true
}

// Node is one Monitoring Object: a filter, its owned engine instances,
// and child MOs, spec.md §3's MO tree node.
type Node struct {
	Path     string // relative to mo-dir, also this MO's directory name
	Name     string
	Filter   *filter.Expr
	DumpMode string

	FWMs  []*FWMInstance
	MAVGs []*MAVGInstance
	CLSFs []*CLSFInstance

	Children []*Node

	// cfgPath/mtime back the hot-reload coordinator (internal/reload):
	// the file this node was parsed from and the mtime observed at
	// load time.
	cfgPath string
	mtime   int64
}

func (n *Node) ConfigPath() string { return n.cfgPath }
func (n *Node) Mtime() int64       { return n.mtime }

// FindFWM, FindMAVG, and FindCLSF look up one of this node's own engine
// instances by its declared name (or, for CLSF, its id rendered as a
// name), used by internal/adminapi's per-window dump endpoints.
func (n *Node) FindFWM(name string) *FWMInstance {
	for _, f := range n.FWMs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (n *Node) FindMAVG(name string) *MAVGInstance {
	for _, m := range n.MAVGs {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (n *Node) FindCLSF(name string) *CLSFInstance {
	for _, c := range n.CLSFs {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Tree is the root of the loaded MO hierarchy.
type Tree struct {
	Root []*Node
}

// Find returns the node whose Path equals path, or nil. Used by
// internal/adminapi to resolve a "GET /mo/{path}"-style request into a
// concrete Node.
func (t *Tree) Find(path string) *Node {
	for _, n := range t.Root {
		if found := findIn(n, path); found != nil {
			return found
		}
	}
	return nil
}

func findIn(n *Node, path string) *Node {
	if n.Path == path {
		return n
	}
	for _, c := range n.Children {
		if found := findIn(c, path); found != nil {
			return found
		}
	}
	return nil
}

// SetCLSFDir applies dir to every classification window in the tree.
// Split out from Load because the bootstrap config's clsf-dir lives one
// layer above mo.Load's caller (cmd/collector), not inside any mo.conf.
func (t *Tree) SetCLSFDir(dir string) {
	for _, n := range t.Root {
		setCLSFDir(n, dir)
	}
}

func setCLSFDir(n *Node, dir string) {
	for _, c := range n.CLSFs {
		c.Window.SetDir(dir)
	}
	for _, child := range n.Children {
		setCLSFDir(child, dir)
	}
}

// SetNotifDir applies dir to every MAVG window in the tree, along with
// each node's own path (spec.md §6's "{notif-dir}/<mo>/..." layout).
// Split out from Load for the same reason as SetCLSFDir: the bootstrap
// config's notifications-dir lives one layer above mo.Load's caller.
func (t *Tree) SetNotifDir(dir string) {
	for _, n := range t.Root {
		setNotifDir(n, dir)
	}
}

func setNotifDir(n *Node, dir string) {
	for _, m := range n.MAVGs {
		m.Window.SetNotifDir(n.Path, dir)
	}
	for _, child := range n.Children {
		setNotifDir(child, dir)
	}
}

// SetFreqGeo applies the process-wide frequency table and geoip store to
// every FWM, MAVG, and CLSF window in the tree. Like SetCLSFDir, this is
// a second pass over an already-built tree because internal/corectx's
// Context is constructed by the caller of mo.Load, not by mo itself.
func (t *Tree) SetFreqGeo(freq *fields.FreqTable, geo fields.GeoStore) {
	for _, n := range t.Root {
		setFreqGeo(n, freq, geo)
	}
}

func setFreqGeo(n *Node, freq *fields.FreqTable, geo fields.GeoStore) {
	for _, f := range n.FWMs {
		f.Window.SetFreqGeo(freq, geo)
	}
	for _, m := range n.MAVGs {
		m.Window.SetFreqGeo(freq, geo)
	}
	for _, c := range n.CLSFs {
		c.Window.SetFreqGeo(freq, geo)
	}
	for _, child := range n.Children {
		setFreqGeo(child, freq, geo)
	}
}

// Walk calls fn for every node in the tree, depth first.
func (t *Tree) Walk(fn func(*Node)) {
	for _, n := range t.Root {
		walkNode(n, fn)
	}
}

func walkNode(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		walkNode(c, fn)
	}
}

// Load scans dir (spec.md §6's "mo-dir") for a tree of <name>/mo.conf
// files and builds a Node per file found, recursing into subdirectories
// for child MOs. nthreads sizes each FWM/CLSF window's per-thread bank
// count.
func Load(dir string, nthreads int) (*Tree, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("mo: read dir %q: %w", dir, err)
	}
	var roots []*Node
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := loadNode(dir, e.Name(), nthreads)
		if err != nil {
			return nil, err
		}
		if n != nil {
			roots = append(roots, n)
		}
	}
	return &Tree{Root: roots}, nil
}

func loadNode(parentDir, name string, nthreads int) (*Node, error) {
	path := filepath.Join(parentDir, name)
	cfgPath := filepath.Join(path, "mo.conf")

	info, err := os.Stat(cfgPath)
	if os.IsNotExist(err) {
		return nil, nil // a plain subdirectory with no mo.conf is not an MO
	}
	if err != nil {
		return nil, fmt.Errorf("mo: stat %q: %w", cfgPath, err)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("mo: read %q: %w", cfgPath, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("mo: parse %q: %w", cfgPath, err)
	}

	n, err := build(name, path, &cfg, nthreads)
	if err != nil {
		return nil, fmt.Errorf("mo %q: %w", path, err)
	}
	n.cfgPath = cfgPath
	n.mtime = info.ModTime().UnixNano()

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("mo: read dir %q: %w", path, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child, err := loadNode(path, e.Name(), nthreads)
		if err != nil {
			return nil, err
		}
		if child != nil {
			n.Children = append(n.Children, child)
		}
	}

	return n, nil
}
