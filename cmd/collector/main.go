// Command collector is xenoflow's process entry point: it loads the
// bootstrap config and MO tree, wires the per-flow dispatcher, the MAVG
// reactor, the FWM/CLSF dumper, the hot-reload coordinator, and the
// admin HTTP API, then blocks until SIGINT/SIGTERM.
//
// Packet capture and NetFlow/IPFIX/sFlow template decoding are out of
// scope (spec.md §1): this binary does not open a socket or a pcap
// handle. It owns one hookup point instead — the flows channel below —
// that a capture/decode component would feed with already-decoded
// *flowrec.Record values.
//
// Grounded on the teacher's flat env-var bootstrap (root main.go):
// numbered steps, log.Fatalf on unrecoverable init errors, background
// goroutines started before the final signal-wait, graceful shutdown of
// the HTTP server ahead of the worker wait group.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"xenoflow/internal/adminapi"
	"xenoflow/internal/appconfig"
	"xenoflow/internal/corectx"
	"xenoflow/internal/dispatch"
	"xenoflow/internal/dumper"
	"xenoflow/internal/export"
	"xenoflow/internal/flowrec"
	"xenoflow/internal/launcher"
	"xenoflow/internal/mavg"
	"xenoflow/internal/mavg/notify"
	"xenoflow/internal/mo"
	"xenoflow/internal/reload"
)

const shutdownTimeout = 10 * time.Second

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func main() {
	// 1. Config
	configPath := getEnv("XENOFLOW_CONFIG", "/etc/xenoflow/xenoflow.conf")
	tuningPath := getEnv("XENOFLOW_TUNING", "")
	nthreads := getEnvInt("XENOFLOW_THREADS", 4)
	adminAddr := getEnv("XENOFLOW_ADMIN_ADDR", ":8080")
	adminSecret := getEnv("XENOFLOW_ADMIN_SECRET", "")

	log.Println("Initializing xenoflow collector...")
	log.Printf("config: %s", configPath)

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	tuning, err := appconfig.LoadTuning(tuningPath)
	if err != nil {
		log.Fatalf("Failed to load tuning: %v", err)
	}

	// 2. Process-wide state
	cctx, err := corectx.New(cfg, tuning, nil)
	if err != nil {
		log.Fatalf("Failed to build core context: %v", err)
	}
	cctx.WatchSignals()

	tree, err := mo.Load(cfg.MODir, nthreads)
	if err != nil {
		log.Fatalf("Failed to load MO tree from %q: %v", cfg.MODir, err)
	}
	tree.SetCLSFDir(cfg.CLSFDir)
	tree.SetNotifDir(cfg.NotificationsDir)
	tree.SetFreqGeo(cctx.Freq, cctx.Geo)

	// 3. Reactor: rate-limited script launcher plus an optional webhook
	// notifier (additive over original_source's script-only reactor).
	reactorLauncher := launcher.New(tuning.ReactorRatePerSec, tuning.ReactorBurst)
	var notifier mavg.Notifier
	if svixToken := os.Getenv("SVIX_AUTH_TOKEN"); svixToken != "" {
		n, err := notify.New(svixToken, getEnv("SVIX_SERVER_URL", ""), getEnv("SVIX_APP_ID", ""))
		if err != nil {
			log.Fatalf("Failed to create webhook notifier: %v", err)
		}
		notifier = notifyAdapter{n}
	}
	reactor := &mavg.ScriptReactor{Launcher: reactorLauncher, Notifier: notifier}
	tree.WireReactors(reactor)

	// 4. Optional direct-write sink for FWMs with "direct": true.
	var pgSink *export.PGSink
	if dbURL := os.Getenv("XENOFLOW_PG_URL"); dbURL != "" {
		ctx := context.Background()
		pgSink, err = export.NewPGSink(ctx, dbURL)
		if err != nil {
			log.Fatalf("Failed to connect direct-write sink: %v", err)
		}
		defer pgSink.Close()
	}

	// 5. Admin HTTP API: live tail websocket plus per-window dump
	// endpoints, gated by a bearer JWT.
	adminServer := adminapi.NewServer(tree, adminSecret, adminAddr)

	// 6. Hot-reload coordinator: polls every mo.conf for mtime changes and
	// swaps in new MAVG limit tables in place.
	reloadCoord := reload.New(tree)

	// 7. FWM/CLSF dumper: periodic SQL export + direct write + exporter
	// script invocation, periodic classification merge + reverse-lookup
	// directory rewrite.
	dumpCoord := dumper.New(tree, cfg.ExportDir, cfg.DBExporterPath, reactorLauncher, pgSink)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reloadCoord.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		dumpCoord.Run(ctx)
	}()

	// 8. Ingest dispatch. flows is the out-of-scope capture/decode
	// hookup point: any producer that can turn a captured packet into a
	// *flowrec.Record may send on this channel. nthreads workers each own
	// one Dispatcher so FWM/CLSF bank writes stay sharded by thread index
	// the way spec.md §5 requires, without a lock on the hot path.
	flows := make(chan *flowrec.Record, 4096)
	for i := 0; i < nthreads; i++ {
		d := dispatch.New(tree, i)
		d.Tap = adminServer.Tap
		wg.Add(1)
		go func(d *dispatch.Dispatcher) {
			defer wg.Done()
			for r := range flows {
				d.Dispatch(ctx, r)
			}
		}(d)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting admin API on %s", adminAddr)
		if err := adminServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Admin API failed: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down...")
	close(flows)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin API shutdown error: %v", err)
	}
	cancel()
	wg.Wait()
}

// notifyAdapter bridges internal/mavg/notify's Notifier (distinct event
// type, to keep internal/mavg import-free of internal/mavg/notify) to
// the mavg.Notifier interface ScriptReactor expects.
type notifyAdapter struct{ n *notify.Notifier }

func (a notifyAdapter) Send(ctx context.Context, ev mavg.NotifyEvent) error {
	return a.n.Send(ctx, notify.Event{
		Window: ev.Window, Key: ev.Key, FieldIdx: ev.FieldIdx,
		Value: ev.Value, Limit: ev.Limit, Over: ev.Over,
	})
}
