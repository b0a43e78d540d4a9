// Package corectx holds the process-wide mutable state spec.md §9 says
// to model as "a process-wide Context struct passed by reference to
// every component; no globals": the geoip store, the shared frequency
// table, the loaded IP lists, and a SIGHUP-driven reload flag.
// cmd/collector builds one and hands its parts (frequency table, geoip
// store) to the engines rather than having them reach for a
// package-level variable.
package corectx

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"xenoflow/internal/appconfig"
	"xenoflow/internal/fields"
	"xenoflow/internal/iplist"
)

// Context is the one process-wide state bag. Construct with New and
// pass a pointer to it everywhere a component would otherwise need a
// global.
type Context struct {
	Config *appconfig.Config
	Tuning appconfig.Tuning

	Freq *fields.FreqTable
	Geo  fields.GeoStore
	IP   *iplist.Store

	// reloadRequested is set by the SIGHUP handler and read through
	// ReloadRequested, spec.md §9's "no signal-handler work beyond the
	// flag".
	reloadRequested atomic.Bool
}

// New builds a Context from an already-loaded bootstrap config and
// tuning file. geo may be nil, in which case a fields.NilGeoStore is
// used, matching spec.md's documented "geoip store is out of scope"
// miss behavior.
func New(cfg *appconfig.Config, tuning appconfig.Tuning, geo fields.GeoStore) (*Context, error) {
	if geo == nil {
		geo = fields.NilGeoStore{}
	}
	ctx := &Context{
		Config: cfg,
		Tuning: tuning,
		Freq:   &fields.FreqTable{},
		Geo:    geo,
	}
	if cfg.IPListsDir != "" {
		store, err := iplist.Load(cfg.IPListsDir)
		if err != nil {
			return nil, err
		}
		ctx.IP = store
	}
	return ctx, nil
}

// ReloadRequested reports whether a SIGHUP has arrived since the last
// call, clearing the flag. No background loop in this tree calls it:
// internal/reload's Coordinator reloads on its own mtime poll.
func (c *Context) ReloadRequested() bool {
	return c.reloadRequested.Swap(false)
}

// WatchSignals installs a SIGHUP handler that sets the reload flag,
// spec.md §9's "blocking signal semantics" note translated to Go's
// os/signal channel idiom instead of a libc signal handler.
func (c *Context) WatchSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			logrus.Info("corectx: SIGHUP received, flagging reload")
			c.reloadRequested.Store(true)
		}
	}()
}
