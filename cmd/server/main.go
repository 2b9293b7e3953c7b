package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shipyard.ai/internal/config"
	"shipyard.ai/internal/persistence/blacklist"
	"shipyard.ai/internal/persistence/fleet"
	"shipyard.ai/internal/persistence/ledger"
	persistlog "shipyard.ai/internal/persistence/log"
	"shipyard.ai/internal/persistence/mirror"
	"shipyard.ai/internal/persistence/shipstore"
	"shipyard.ai/internal/ship"
	"shipyard.ai/internal/ship/identity"
	"shipyard.ai/internal/ship/integrity"
	"shipyard.ai/internal/ship/rebuild"
	"shipyard.ai/internal/sim/live"
	"shipyard.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/shipyard.yaml", "server config path")
		envFile    = flag.String("env", ".env", "optional dotenv file applied before the config is read")
		serverID   = flag.String("server_id", "", "fixed server fingerprint (default: derived from host signals)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	shipLogger := log.New(os.Stdout, "[ship] ", log.LstdFlags|log.Lmicroseconds)

	if p := strings.TrimSpace(*envFile); p != "" {
		if err := godotenv.Load(p); err != nil && !os.IsNotExist(err) {
			logger.Printf("dotenv %s: %v", p, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	cat, err := live.LoadCatalog(cfg.PrototypesFile)
	if err != nil {
		logger.Fatalf("load prototypes: %v", err)
	}
	w := live.NewWorld(cat)

	var ident identity.Source = identity.NewDefault()
	if id := strings.TrimSpace(*serverID); id != "" {
		ident = identity.Static(id)
	}
	fp, err := ident.Fingerprint()
	if err != nil {
		logger.Fatalf("server identity: %v", err)
	}
	logger.Printf("server fingerprint %s…", fp[:min(8, len(fp))])

	bl := blacklist.Open(cfg.BlacklistFile)
	if entries, err := bl.List(); err != nil {
		logger.Fatalf("blacklist %s: %v", cfg.BlacklistFile, err)
	} else {
		logger.Printf("blacklist %s: %d entries", cfg.BlacklistFile, len(entries))
	}

	led, err := ledger.Open(cfg.LedgerDB)
	if err != nil {
		logger.Fatalf("open ledger: %v", err)
	}
	defer led.Close()

	var (
		shipLedger ship.Ledger = led
		fc         *fleet.Counter
	)
	if cfg.Fleet.RedisURL != "" {
		fc, err = fleet.NewCounter(cfg.Fleet.RedisURL)
		if err != nil {
			logger.Fatalf("fleet: %v", err)
		}
		defer fc.Close()
		fc.TTL = cfg.LoadTTL()
		shipLedger = multiLedger{backends: []ship.Ledger{led, fc}}
		logger.Printf("fleet load history enabled")
	}

	auditLog := persistlog.NewAuditLogger(cfg.AuditDir)
	defer auditLog.Close()

	svc := &ship.Service{
		Graph:  w,
		Decals: w,
		Validator: &integrity.Validator{
			Identity:  ident,
			Blacklist: bl,
			Logger:    shipLogger,
		},
		Engine: &rebuild.Engine{
			Graph:         w,
			Hooks:         rebuild.LogHooks{Next: w, Logger: shipLogger},
			Scheduler:     rebuild.TimerScheduler{},
			HookDelay:     cfg.HookDelay(),
			WarnThreshold: cfg.Load.WarnThreshold,
			Logger:        shipLogger,
		},
		Ledger:               shipLedger,
		Library:              shipstore.New(cfg.ShipsDir),
		Audit:                auditLog,
		RejectDuplicateLoads: cfg.Load.RejectDuplicateLoads,
		Logger:               shipLogger,
	}

	var shipMirror *mirror.Mirror
	if cfg.Mirror.Enabled() {
		mc, err := mirror.NewClient(cfg.Mirror.Endpoint, cfg.Mirror.Bucket, cfg.Mirror.Region, cfg.Mirror.AccessKeyID, cfg.Mirror.SecretAccessKey)
		if err != nil {
			logger.Fatalf("init mirror: %v", err)
		}
		shipMirror = mirror.New(mc, cfg.ShipsDir, mirror.Options{Prefix: cfg.Mirror.Prefix, Workers: cfg.Mirror.Workers}, logger)
		defer shipMirror.Close()
		svc.Mirror = shipMirror
		logger.Printf("mirroring archived ships to %s/%s", cfg.Mirror.Endpoint, cfg.Mirror.Bucket)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if fc != nil {
			pctx, pcancel := context.WithTimeout(r.Context(), time.Second)
			defer pcancel()
			if err := fc.Ping(pctx); err != nil {
				http.Error(rw, "fleet: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP shipyard_live_grids Live grids in the world.\n")
		fmt.Fprintf(rw, "# TYPE shipyard_live_grids gauge\n")
		fmt.Fprintf(rw, "shipyard_live_grids %d\n", len(w.Grids()))

		fmt.Fprintf(rw, "# HELP shipyard_live_entities Live entities in the world.\n")
		fmt.Fprintf(rw, "# TYPE shipyard_live_entities gauge\n")
		fmt.Fprintf(rw, "shipyard_live_entities %d\n", w.EntityCount())

		if shipMirror != nil {
			st := shipMirror.Stats()
			fmt.Fprintf(rw, "# HELP shipyard_mirror_queue_depth Archived ships waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE shipyard_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "shipyard_mirror_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP shipyard_mirror_uploads_total Mirror uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE shipyard_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "shipyard_mirror_uploads_total{result=%q} %d\n", "ok", st.Uploaded)
			fmt.Fprintf(rw, "shipyard_mirror_uploads_total{result=%q} %d\n", "failed", st.Failed)
			fmt.Fprintf(rw, "shipyard_mirror_uploads_total{result=%q} %d\n", "dropped", st.Dropped)
		}
	})
	if envBool("SHIPYARD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only blacklist view.
		mux.HandleFunc("/admin/v1/blacklist", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			entries, err := bl.List()
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "entries": entries})
		})
		mux.HandleFunc("/admin/v1/loads", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			loads, err := led.Loads(r.Context(), r.URL.Query().Get("origin"), 100)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "loads": loads})
		})
		// Last save of one origin as the whole fleet saw it.
		mux.HandleFunc("/admin/v1/fleet", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			origin := strings.TrimSpace(r.URL.Query().Get("origin"))
			if fc == nil || origin == "" {
				rw.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": "fleet disabled or origin missing"})
				return
			}
			rec, found, err := fc.LastSave(r.Context(), origin)
			if err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "found": found, "last_save": rec})
		})
	} else {
		logger.Printf("admin endpoints disabled (SHIPYARD_ENABLE_ADMIN_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(svc, cfg.Transport, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
