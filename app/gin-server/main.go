package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yoockh/crisishelp/config"
	"github.com/yoockh/crisishelp/internal/api/handlers"
	"github.com/yoockh/crisishelp/internal/api/middleware"
	"github.com/yoockh/crisishelp/internal/api/routes"
	"github.com/yoockh/crisishelp/internal/cache"
	"github.com/yoockh/crisishelp/internal/conversation"
	"github.com/yoockh/crisishelp/internal/location"
	"github.com/yoockh/crisishelp/internal/logger"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/narration"
	"github.com/yoockh/crisishelp/internal/network"
	"github.com/yoockh/crisishelp/internal/persistence"
	"github.com/yoockh/crisishelp/internal/prefs"
	"github.com/yoockh/crisishelp/internal/providers/device"
	"github.com/yoockh/crisishelp/internal/providers/tts"
	"github.com/yoockh/crisishelp/internal/providers/voice"
	mongorepo "github.com/yoockh/crisishelp/internal/repositories/mongo"
	pgrepo "github.com/yoockh/crisishelp/internal/repositories/postgres"
	"github.com/yoockh/crisishelp/internal/services"
	"github.com/yoockh/crisishelp/internal/session"
	"github.com/yoockh/crisishelp/internal/storage"
	"github.com/yoockh/crisishelp/internal/tools"
	"github.com/yoockh/crisishelp/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg := config.LoadApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Preferences: Redis when configured, otherwise kept in memory
	if config.RedisConfigured() {
		if err := config.InitRedis(); err != nil {
			log.Fatalf("Redis init error: %v", err)
		}
		log.Info("Redis connected")
	}
	store := cache.For(config.RedisClient)

	sink, closeSink := buildSink(ctx, cfg, log)

	sessions, err := session.New(ctx, session.Options{
		Prefs:      prefs.New(store),
		Sink:       sink,
		Logger:     log,
		DeviceType: models.ParseDeviceType(cfg.DeviceType),
	})
	if err != nil {
		log.Fatalf("session store init error: %v", err)
	}

	dispatcher := tools.NewDispatcher(tools.Options{
		Sessions: sessions,
		Dialer:   tools.URIDialer{Opener: device.NewExecOpener(log)},
		Locator:  location.NewAcquirer(buildGeolocator(cfg, log), log),
		Logger:   log,
	})

	transport := voice.NewElevenLabs(cfg.VoiceKey, log)
	if cfg.VoiceWSURL != "" {
		transport.URL = cfg.VoiceWSURL
	}
	adapter := conversation.NewAdapter(conversation.Options{
		AgentID:    cfg.AgentID,
		Transport:  transport,
		Microphone: device.NewMicrophone(cfg.Microphone),
		Sessions:   sessions,
		Tools:      dispatcher,
		Logger:     log,
	})

	monitor := network.NewMonitor(cfg.NetworkProbe, network.DefaultInterval, log)

	engine := narration.NewEngine(nil, log)
	if speech := tts.NewExecSpeech(log); speech.Available() {
		engine = narration.NewEngine(speech, log)
		go func() {
			if err := engine.LoadVoices(ctx); err != nil {
				log.WithError(err).Warn("no speech voices found")
			}
		}()
	} else {
		log.Warn("no speech synthesizer found; guided narration disabled")
	}
	player := narration.NewPlayer(engine, narration.PlayerOptions{
		Network:        monitor,
		AutoStartDelay: cfg.GuideAutoStart,
		StepDelay:      cfg.GuideStepDelay,
		AllowOnline:    cfg.GuidesAllowOnline,
		Logger:         log,
	})

	crisis := services.NewCrisisService(services.CrisisOptions{
		Sessions:           sessions,
		Conversation:       adapter,
		Tools:              dispatcher,
		Narration:          engine,
		Guides:             player,
		Logger:             log,
		ReconnectAttempts:  cfg.ReconnectAttempts,
		ReconnectDelay:     cfg.ReconnectDelay,
		MaxSessionDuration: cfg.MaxSessionDuration,
		IdleTimeout:        cfg.IdleTimeout,
	})
	monitor.OnChange(crisis.NetworkChanged)
	crisis.OnNotice(func(n services.Notice) {
		log.WithField("level", n.Level).Info(n.Message)
	})

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		Session:     handlers.NewSessionHandler(crisis),
		Emergency:   handlers.NewEmergencyHandler(crisis),
		Preferences: handlers.NewPreferencesHandler(crisis),
		Guides:      handlers.NewGuideHandler(crisis),
		WS:          handlers.NewWSHandler(crisis, log),
		JWTSecret:   cfg.JWTSecret,
	})
	if cfg.JWTSecret == "" {
		log.Warn("CONTROL_JWT_SECRET not set; control API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("crisis service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})

	if config.RedisClient != nil {
		pub := &workers.StatusPublisher{Broker: workers.RedisBroker{Client: config.RedisClient}, Logger: log}
		unsub := pub.Attach(sessions)
		g.Go(func() error {
			defer unsub()
			return pub.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := crisis.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("session not ended cleanly")
		}

		err := srv.Shutdown(shutdownCtx)
		closeSink(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("crisis service stopped")
		os.Exit(1)
	}
	log.Info("crisis service stopped")
}

// buildSink picks the persistence backends named by SINK_BACKEND and puts
// them behind a single async writer.
func buildSink(ctx context.Context, cfg config.App, log *logrus.Logger) (persistence.Sink, func(context.Context)) {
	var sinks persistence.Multi
	var closers []func() error

	if cfg.SinkBackend == "postgres" || cfg.SinkBackend == "both" {
		if err := config.InitPostgres(); err != nil {
			log.Fatalf("PostgreSQL init error: %v", err)
		}
		if err := config.MigratePostgres(); err != nil {
			log.Fatalf("PostgreSQL migrate error: %v", err)
		}
		log.Info("PostgreSQL connected")
		sinks = append(sinks, &persistence.Postgres{
			Sessions:   pgrepo.NewSessionRepo(config.PostgresDB),
			Transcript: pgrepo.NewTranscriptRepo(config.PostgresDB),
			ToolLogs:   pgrepo.NewToolLogRepo(config.PostgresDB),
		})
	}

	if cfg.SinkBackend == "mongo" || cfg.SinkBackend == "both" {
		if err := config.InitMongo(); err != nil {
			log.Fatalf("MongoDB init error: %v", err)
		}
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("MongoDB indexes not ensured")
		}
		log.Info("MongoDB connected")
		db := config.MongoClient.Database(config.MongoDBName())
		sinks = append(sinks, &persistence.Mongo{
			Sessions:   mongorepo.NewSessionRepo(db),
			Transcript: mongorepo.NewTranscriptRepo(db),
			ToolLogs:   mongorepo.NewToolLogRepo(db),
		})
		closers = append(closers, func() error { return config.MongoClient.Disconnect(context.Background()) })
	}

	if cfg.ArchiveBucket != "" {
		up, err := storage.NewGCSUploader(ctx, cfg.ArchiveBucket)
		if err != nil {
			log.Fatalf("GCS init error: %v", err)
		}
		sinks = append(sinks, persistence.NewArchive(up, log))
		closers = append(closers, up.Close)
	}

	if len(sinks) == 0 {
		log.Info("session records are not persisted")
		return persistence.Nop{}, func(context.Context) {}
	}

	async := persistence.NewAsync(sinks, persistence.AsyncOptions{Logger: log})
	return async, func(ctx context.Context) {
		if err := async.Close(ctx); err != nil {
			log.WithError(err).Warn("persistence queue not drained")
		}
		for _, c := range closers {
			if err := c(); err != nil {
				log.WithError(err).Warn("close failed")
			}
		}
	}
}

func buildGeolocator(cfg config.App, log *logrus.Logger) location.Geolocator {
	if cfg.FixedLocation != "" {
		f, err := location.ParseFixed(cfg.FixedLocation)
		if err != nil {
			log.Fatalf("FIXED_LOCATION: %v", err)
		}
		return f
	}
	if cfg.GeolocationURL != "" {
		return &location.HTTPGeolocator{URL: cfg.GeolocationURL, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	log.Warn("no geolocation source configured; location will be unavailable")
	return location.Unavailable{}
}
