/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/hermod_pa/internal/api"
	"github.com/friendsincode/hermod_pa/internal/audio"
	"github.com/friendsincode/hermod_pa/internal/audit"
	"github.com/friendsincode/hermod_pa/internal/cache"
	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/controller"
	"github.com/friendsincode/hermod_pa/internal/db"
	"github.com/friendsincode/hermod_pa/internal/eventbus"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/logbuffer"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/notifications"
	"github.com/friendsincode/hermod_pa/internal/scheduler"
	"github.com/friendsincode/hermod_pa/internal/session"
	"github.com/friendsincode/hermod_pa/internal/state"
	"github.com/friendsincode/hermod_pa/internal/storage"
	"github.com/friendsincode/hermod_pa/internal/telemetry"
	"github.com/friendsincode/hermod_pa/internal/tts"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db              *gorm.DB
	cache           *cache.Cache
	logBuffer       *logbuffer.Buffer
	api             *api.API
	bus             events.Broker
	engine          *audio.Player
	ctrl            *controller.Controller
	scheduler       *scheduler.Service
	auditSvc        *audit.Service
	notificationSvc *notifications.Service
	assets          *storage.Assets

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("hermod-pa-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket and streaming connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip timeout middleware for WebSocket upgrade requests
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			// Skip timeout for media downloads: wall clocks on the far end
			// of a site link can take minutes to pull a long announcement.
			if strings.HasPrefix(r.URL.Path, "/media/") {
				next.ServeHTTP(w, r)
				return
			}
			// Skip timeout for uploads that can legitimately exceed the request middleware timeout.
			if r.URL.Path == "/api/v1/files/upload" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris, but do not enforce a full-body
		// read deadline so large uploads are not terminated mid-request.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout set to 0 for streaming support - handlers manage their own deadlines
		// The middleware timeout (60s) handles non-streaming routes
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Ensure media directory exists
	if err := os.MkdirAll(s.cfg.MediaRoot, 0755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	// Event bus. With NATS configured the same bus also mirrors events to
	// other nodes; a failed connection degrades to local-only delivery.
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsBus, err := eventbus.NewNATSBus(natsCfg, s.logger)
		if err != nil {
			return fmt.Errorf("nats event bridge: %w", err)
		}
		s.bus = natsBus
		s.DeferClose(natsBus.Close)
	} else {
		s.bus = events.NewBus()
	}

	// Optional Redis mirror so dashboards can read live state without
	// touching the appliance database.
	if s.cfg.StateMirrorEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		stateCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without state mirror")
		} else {
			s.cache = stateCache
			s.DeferClose(s.cache.Close)
		}
	}

	fallback := zones.Target{Device: s.cfg.FallbackDevice, Channel: zones.Channel(s.cfg.FallbackChannel)}
	resolver, err := zones.Load(s.cfg.ZoneConfigPath, fallback, s.logger)
	if err != nil {
		// Degraded resolver: every zone maps to the fallback target.
		s.logger.Warn().Err(err).Str("path", s.cfg.ZoneConfigPath).Msg("zone config unavailable, all playback routes to the fallback target")
	}

	s.engine = audio.New(audio.Config{
		PlayBin:       s.cfg.PlayBin,
		AmixerBin:     s.cfg.AmixerBin,
		WorkerStagger: s.cfg.WorkerStagger,
		StopGrace:     s.cfg.StopGrace,
	}, resolver, s.logger)

	speech := tts.New(tts.Config{
		PiperBin:  s.cfg.PiperBin,
		VoicesDir: s.cfg.PiperVoicesDir,
		EspeakBin: s.cfg.EspeakBin,
		WorkDir:   s.cfg.TTSWorkDir,
	}, s.logger)

	statePub := state.New(database, s.bus, s.logger)
	if s.cache != nil && s.cache.IsAvailable() {
		statePub.SetMirror(s.cache)

		table := make(map[string][]cache.CachedZoneTarget)
		for name, targets := range resolver.Table() {
			entries := make([]cache.CachedZoneTarget, 0, len(targets))
			for _, t := range targets {
				entries = append(entries, cache.CachedZoneTarget{Device: t.Device, Channel: string(t.Channel)})
			}
			table[name] = entries
		}
		if err := s.cache.SetZoneTable(context.Background(), table); err != nil {
			s.logger.Debug().Err(err).Msg("zone table mirror failed")
		}
	}

	s.ctrl = controller.New(s.cfg, database, s.engine, speech, statePub, s.bus, s.logger)
	// A crash mid-broadcast leaves a stale active row; reset before serving.
	s.ctrl.ResetState(context.Background())

	store, err := storage.New(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("initialize asset store: %w", err)
	}
	s.assets = storage.NewAssets(store, s.bus, s.cfg.TTSWorkDir, s.logger)
	s.ctrl.SetAssetFetcher(s.assets)

	s.scheduler = scheduler.New(s.cfg, database, s.ctrl, s.bus, s.logger)
	if err := s.scheduler.LoadPending(context.Background()); err != nil {
		return fmt.Errorf("rehydrate pending schedules: %w", err)
	}

	// Notification service for alerts and reminders
	s.notificationSvc = notifications.NewService(database, s.bus, s.cfg, s.logger)

	// Audit service persisting broadcast actions
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	sessions := session.NewManager(s.cfg.JWTSigningKey, 0)

	s.api = api.New(database, s.cfg, s.ctrl, sessions, s.notificationSvc, s.auditSvc, s.bus, s.logBuffer, s.logger)
	s.api.SetAssets(s.assets)
	s.api.SetZones(resolver)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("metrics listener shutdown error")
		}
		cancel()
	}

	// Silence the amps before the stores go away.
	if s.ctrl != nil {
		s.ctrl.Shutdown()
	}

	if s.db != nil {
		s.markDevice(context.Background(), "offline")
	}

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	if s.scheduler == nil &&
		s.auditSvc == nil &&
		s.notificationSvc == nil &&
		s.db == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.scheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		}()
	}

	// Start audit service
	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	// Start notification service
	if s.notificationSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.notificationSvc.Start(ctx)
		}()
	}

	// Device presence loop
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runDevicePresence(ctx)
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.metricsServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.metricsServer.Addr).Msg("metrics listener started")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener error")
			}
		}()
	}
}

// runDevicePresence stamps the appliance's device row on an interval so
// an operator console can tell a silent site from a dead one.
func (s *Server) runDevicePresence(ctx context.Context) {
	interval := s.cfg.DeviceOnlineInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.markDevice(ctx, "online")
	s.bus.Publish(events.EventDeviceOnline, events.Payload{"device": s.cfg.DeviceName})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.markDevice(ctx, "online")
		}
	}
}

func (s *Server) markDevice(ctx context.Context, status string) {
	row := models.DeviceStatus{
		Name:     s.cfg.DeviceName,
		Status:   status,
		LastSeen: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		s.logger.Warn().Err(err).Str("status", status).Msg("device presence update failed")
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Without a dedicated metrics bind the scrape endpoint shares the API listener.
	if s.metricsServer == nil {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	// Uploaded announcement audio, served to wall clocks and operator consoles.
	s.router.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(s.cfg.MediaRoot))))

	s.api.Routes(s.router)
}
