package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trendhawk/trendhawk/internal/accounts"
	"github.com/trendhawk/trendhawk/internal/audit"
	"github.com/trendhawk/trendhawk/internal/bus"
	"github.com/trendhawk/trendhawk/internal/cadiscovery"
	"github.com/trendhawk/trendhawk/internal/config"
	"github.com/trendhawk/trendhawk/internal/knowntokens"
	"github.com/trendhawk/trendhawk/internal/mention"
	"github.com/trendhawk/trendhawk/internal/monitor"
	"github.com/trendhawk/trendhawk/internal/quorum"
	"github.com/trendhawk/trendhawk/internal/store"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "In-memory store + synthetic mention source, no external calls")
	auditPath := flag.String("audit", "data/alerts.jsonl", "Audit trail file (empty disables the file sink)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "config %s not found, using defaults\n", *configPath)
		cfg = config.Default()
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("TrendHawk Mention Monitor - Starting")
	log.Info().Msg("SCAN -> QUORUM -> DISCOVER -> ALERT")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("stub_mode", *stubMode).
		Int("alert_threshold", cfg.Monitor.AlertThreshold).
		Int("scan_interval_s", cfg.Monitor.MentionScanIntervalS).
		Int("ca_interval_s", cfg.Monitor.CADiscoveryIntervalS).
		Strs("sources", cfg.Monitor.EnabledSources).
		Int("accounts", len(cfg.Monitor.Accounts)).
		Msg("Configuration loaded")

	if *stubMode {
		cfg.Monitor.EnabledSources = []string{"synthetic"}
		if len(cfg.Monitor.Accounts) == 0 {
			cfg.Monitor.Accounts = []string{"demo_alpha", "demo_beta", "demo_gamma"}
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 4. Create store.
	var st store.Store
	if *stubMode {
		st = store.NewMemory()
		log.Info().Msg("Store: in-memory (stub mode)")
	} else {
		mongoStore, err := store.NewMongo(context.Background(), store.MongoConfig{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.Database,
			Timeout:  time.Duration(cfg.Store.TimeoutS) * time.Second,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Mongo unavailable, falling back to in-memory store")
			st = store.NewMemory()
		} else {
			st = mongoStore
		}
	}

	// 5. Alert broadcaster.
	broadcaster := bus.NewBroadcaster(bus.DefaultBroadcasterConfig())
	defer broadcaster.Close()

	logSub := newLogSubscriber()
	broadcaster.Subscribe(logSub)

	var trail *audit.Trail
	if *auditPath != "" {
		if err := os.MkdirAll(filepath.Dir(*auditPath), 0o755); err != nil {
			log.Warn().Err(err).Msg("Audit directory not created")
		}
	}
	trail, err = audit.NewTrail(*auditPath, 500)
	if err != nil {
		log.Warn().Err(err).Msg("Audit trail disabled")
	} else {
		broadcaster.Subscribe(trail)
	}

	// 6. Known-token filter + quorum detector.
	filter := knowntokens.New(st, cfg.Monitor.KnownTokenSeed)
	detector := quorum.New(quorum.Config{
		AlertThreshold: cfg.Monitor.AlertThreshold,
		MentionWindow:  time.Duration(cfg.Monitor.MentionWindowMinutes) * time.Minute,
		ActivationTTL:  time.Duration(cfg.Monitor.ActivationTTLHours) * time.Hour,
	}, st, filter, broadcaster)

	// 7. Mention sources in fallback order.
	var (
		sources  []mention.Source
		timeline *mention.TimelineSource
	)
	for _, name := range cfg.Monitor.EnabledSources {
		switch name {
		case "timeline":
			timeline = mention.NewTimelineSource(mention.TimelineConfig{
				BaseURL:   cfg.Sources.Timeline.BaseURL,
				Timeout:   time.Duration(cfg.Sources.Timeline.TimeoutS) * time.Second,
				MaxPosts:  cfg.Sources.Timeline.MaxPosts,
				UserAgent: cfg.Sources.Timeline.UserAgent,
			})
			sources = append(sources, timeline)
		case "rss":
			sources = append(sources, mention.NewRSSSource(mention.RSSConfig{
				Endpoints: cfg.Sources.RSS.Endpoints,
				Timeout:   time.Duration(cfg.Sources.RSS.TimeoutS) * time.Second,
				MaxItems:  cfg.Sources.RSS.MaxItems,
			}))
		case "scrape":
			sources = append(sources, mention.NewScrapeSource(mention.ScrapeConfig{
				ProfileURLTemplate: cfg.Sources.Scrape.BaseURL + "/%s",
				Timeout:            time.Duration(cfg.Sources.Scrape.TimeoutS) * time.Second,
			}))
		case "synthetic":
			sources = append(sources, mention.NewSyntheticSource())
		}
	}
	chain := mention.NewChain(sources...)
	log.Info().Strs("order", chain.Sources()).Msg("Mention source chain assembled")

	// 8. Account provider.
	var provider accounts.Provider = accounts.NewStatic(cfg.Monitor.Accounts)
	if cfg.Monitor.TargetAccount != "" && timeline != nil {
		provider = accounts.NewFollowing(timeline, cfg.Monitor.TargetAccount, 50, cfg.Monitor.Accounts)
		log.Info().Str("target", cfg.Monitor.TargetAccount).Msg("Watch-list: following-list provider")
	}

	// 9. CA discovery.
	poller := cadiscovery.NewPoller(cadiscovery.PollerConfig{
		Endpoints: cfg.Discovery.RecentAssetEndpoints,
		Timeout:   time.Duration(cfg.Discovery.PollTimeoutS) * time.Second,
	})
	discoverer := cadiscovery.NewDiscoverer(cadiscovery.DiscovererConfig{
		FreshnessWindow:  time.Duration(cfg.Monitor.FreshnessWindowS) * time.Second,
		ChartURLTemplate: cfg.Discovery.ChartURLTemplate,
	}, st, detector, filter, broadcaster)

	var feed *cadiscovery.PushFeed
	if !*stubMode {
		feed = cadiscovery.NewPushFeed(cadiscovery.PushFeedConfig{
			URL:            cfg.Discovery.PushFeedURL,
			ReconnectDelay: time.Duration(cfg.Discovery.ReconnectDelayMs) * time.Millisecond,
			PingInterval:   time.Duration(cfg.Discovery.PingIntervalS) * time.Second,
		})
	}

	// 10. Orchestrator.
	var session monitor.Session
	if timeline != nil {
		session = timeline
	}
	orc := monitor.New(cfg.Monitor, monitor.Deps{
		Chain:      chain,
		Session:    session,
		Provider:   provider,
		Detector:   detector,
		Filter:     filter,
		Poller:     poller,
		Feed:       feed,
		Discoverer: discoverer,
	})

	// 11. Setup context + signals.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 12. Start monitoring.
	if err := orc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Monitoring failed to start")
	}

	// 13. HTTP surface.
	server := buildHTTPServer(cfg, orc, broadcaster, st, trail)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("HTTP server started")
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// 14. Periodic stats logging.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := orc.Stats()
				log.Info().
					Str("state", string(s.State)).
					Int64("scan_cycles", s.ScanCycles).
					Int64("poll_cycles", s.PollCycles).
					Int64("mentions", s.Detector.MentionsIngested).
					Int("open_activations", s.Detector.OpenActivations).
					Int64("trending_alerts", s.Discovery.TrendingAlerts).
					Int("subscribers", broadcaster.SubscriberCount()).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("TrendHawk - Running")

	// 15. Block until shutdown.
	<-ctx.Done()

	// 16. Graceful shutdown.
	log.Info().Msg("Shutting down...")
	orc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	server.Shutdown(shutdownCtx)
	if err := st.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}
	shutdownCancel()

	final := orc.Stats()
	log.Info().
		Int64("scan_cycles", final.ScanCycles).
		Int64("activations", final.Detector.Activations).
		Int64("trending_alerts", final.Discovery.TrendingAlerts).
		Int64("standalone_alerts", final.Discovery.StandaloneAlerts).
		Msg("TrendHawk - Final Statistics")
	log.Info().Msg("TrendHawk - Shutdown complete")
}

func buildHTTPServer(cfg *config.Config, orc *monitor.Orchestrator, broadcaster *bus.Broadcaster, st store.Store, trail *audit.Trail) *http.Server {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	// ── Health ──
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status":      "ok",
			"state":       orc.State(),
			"instance_id": cfg.General.InstanceID,
		})
	})

	// ── Stats ──
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"monitor":   orc.Stats(),
			"broadcast": broadcaster.Stats(),
		})
	})

	// ── Monitoring control ──
	mux.HandleFunc("/monitoring/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := orc.Start(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"state": orc.State()})
	})

	mux.HandleFunc("/monitoring/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		orc.Stop()
		writeJSON(w, map[string]any{"state": orc.State()})
	})

	mux.HandleFunc("/monitoring/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"state":  orc.State(),
			"config": orc.Config(),
		})
	})

	mux.HandleFunc("/monitoring/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		updated := orc.Config()
		if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := orc.Reconfigure(updated); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, map[string]any{"applied": orc.Config()})
	})

	// ── Alerts ──
	mux.HandleFunc("/alerts/recent", func(w http.ResponseWriter, r *http.Request) {
		alerts, err := st.QueryCAAlerts(r.Context(), 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, alerts)
	})

	mux.HandleFunc("/alerts/ws", bus.WSHandler(broadcaster))

	// ── Audit ──
	mux.HandleFunc("/audit/recent", func(w http.ResponseWriter, _ *http.Request) {
		if trail == nil {
			writeJSON(w, []audit.Entry{})
			return
		}
		writeJSON(w, trail.Entries())
	})

	return &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// logSubscriber mirrors every alert into the process log, so a run without
// any websocket client still has a visible alert trail.
type logSubscriber struct{}

func newLogSubscriber() *logSubscriber { return &logSubscriber{} }

func (s *logSubscriber) ID() string { return "log" }

func (s *logSubscriber) Deliver(ev bus.Event) error {
	switch ev.Type {
	case bus.EventTrendActivation:
		log.Info().
			Str("token", ev.Activation.TokenName).
			Int("accounts", ev.Activation.MentionCount).
			Msg("[TREND ALERT]")
	case bus.EventCAAlert:
		log.Info().
			Str("token", ev.Alert.TokenName).
			Str("ca", ev.Alert.ContractAddress).
			Str("chart", ev.Alert.ChartURL).
			Bool("was_trending", ev.Alert.WasTrending).
			Msg("[CA ALERT]")
	}
	return nil
}

func (s *logSubscriber) Close() error { return nil }

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "trendhawk").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "trendhawk").
			Str("instance", general.InstanceID).Logger()
	}
}
