package server

import (
	"context"
	"errors"
	"kibaeon/internal/broadcast"
	"kibaeon/internal/config"
	"kibaeon/internal/db"
	"kibaeon/internal/events"
	"kibaeon/internal/metrics"
	"kibaeon/internal/rooms"
	"kibaeon/internal/wshub"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", s.handleCreateRoom)
		r.Get("/", s.handleListRooms)
		r.Get("/my-room", s.handleMyRoom)
		r.Route("/{roomId}", func(r chi.Router) {
			r.Get("/", s.handleGetRoom)
			r.Delete("/", s.handleCloseRoom)
			r.Get("/reconcile", s.handleReconcile)
			r.Post("/join", s.handleJoinRoom)
			r.Post("/leave", s.handleLeaveRoom)
			r.Post("/ready", s.handleReady)
			r.Post("/start", s.handleStart)
			r.Post("/kick", s.handleKick)
			r.Post("/host", s.handleTransferHost)
		})
	})
	r.Get("/api/events", s.handleEvents)
	r.Get("/ws", s.handleWS)
	r.Get("/health", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	return r
}

// Run wires the registry, persistence, presence and HTTP server, and serves
// until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	bus := events.NewBus(cfg.EventBuffer)
	opts := rooms.Options{
		MaxPlayers: cfg.MaxRoomPlayers,
		Bus:        bus,
		Logger:     log.Named("rooms"),
	}

	// Optional database connection
	var database *db.DB
	var restored []rooms.Snapshot
	if cfg.DatabaseURL != "" {
		var err error
		database, err = openDatabase(ctx, cfg, log.Named("db"))
		if err != nil {
			log.Warn("running without database", zap.Error(err))
		} else {
			defer database.Close()
			opts.Persister = database
			if restored, err = database.LoadRooms(ctx); err != nil {
				log.Error("loading persisted rooms", zap.Error(err))
			}
		}
	} else {
		log.Info("DATABASE_URL not set, running without database")
	}

	registry := rooms.NewRegistry(opts)
	if len(restored) > 0 {
		n, err := registry.Restore(restored)
		if err != nil {
			log.Warn("some persisted rooms were not restored", zap.Error(err))
		}
		log.Info("restored rooms", zap.Int("count", n))
	}

	m := metrics.New(registry.Stats)
	b := broadcast.NewBroadcaster(bus)
	hub := wshub.NewHub(wshub.Options{
		Grace:    cfg.DisconnectGrace,
		OnDepart: departFunc(registry, m),
		Logger:   log.Named("wshub"),
	})
	defer hub.Close()

	srv := &Server{
		Rooms:       registry,
		Hub:         hub,
		Broadcaster: b,
		Metrics:     m,
		Log:         log.Named("http"),
	}
	if database != nil {
		srv.DB = database
	}

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           NewRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubEvents := b.SubscribeBuffered(cfg.EventBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx, hubEvents)
		return nil
	})
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.Config, log *zap.Logger) (*db.DB, error) {
	database, err := db.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	if cfg.StaleRoomTTL > 0 {
		if _, err := database.PurgeStale(ctx, time.Now().Add(-cfg.StaleRoomTTL)); err != nil {
			log.Error("purging stale rooms", zap.Error(err))
		}
	}
	return database, nil
}

// departFunc removes a user whose sockets stayed closed past the grace period
// from the room they were in when the last one closed. A user who already left
// that room, or never had one, is left alone.
func departFunc(registry *rooms.Registry, m *metrics.Metrics) func(userID, roomID string) {
	return func(userID, roomID string) {
		if roomID == "" {
			return
		}
		_, err := registry.LeaveRoom(userID, roomID)
		if errors.Is(err, rooms.ErrNotAMember) || errors.Is(err, rooms.ErrRoomNotFound) {
			return
		}
		m.Observe("depart", err)
		if err == nil {
			m.Departed()
		}
	}
}
