package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patient-call-service/internal/domain/entity"
	"patient-call-service/internal/domain/repository"
	"patient-call-service/internal/infrastructure/config"
	"patient-call-service/internal/infrastructure/oauth"
	"patient-call-service/internal/infrastructure/persistence"
	"patient-call-service/internal/infrastructure/router"
	"patient-call-service/internal/infrastructure/worker"
	"patient-call-service/internal/interface/display"
	httpapi "patient-call-service/internal/interface/http"
	repo "patient-call-service/internal/interface/repository"
	"patient-call-service/internal/interface/tts"
	"patient-call-service/internal/usecase"
	"patient-call-service/pkg/logger"
	"patient-call-service/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	// Create logger
	log := logger.NewLoggerWithLevel(cfg.LogLevel, "patient-call-service")
	defer log.Sync()
	log.Info("Starting Patient Call Service", "unit", cfg.UnitID, "version", cfg.AppVersion)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn("Unknown timezone, using local time", "timezone", cfg.Timezone, "error", err)
		location = time.Local
	}

	m := metrics.NewMetrics("patient_call")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up MongoDB connection
	log.Info("Connecting to MongoDB")
	mongoClient, db, err := persistence.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoUser, cfg.MongoPassword)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", "error", err)
	}
	patientRepository := repo.NewMongoPatientRepository(db)
	callArchive := repo.NewMongoCallHistoryRepository(db)

	// Schedule configuration lives in PostgreSQL
	log.Info("Connecting to PostgreSQL")
	gormDB, err := persistence.NewPostgresDB(cfg.PostgresURI)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", "error", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to get PostgreSQL handle", "error", err)
	}
	phraseRepository := repo.NewGormScheduledPhraseRepository(gormDB)
	templateRepository := repo.NewGormPhraseTemplateRepository(gormDB)

	// Redis holds the audio cache and carries the change feed
	log.Info("Connecting to Redis")
	redisClient, err := persistence.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	audioStorage := repo.NewRedisAudioStorage(redisClient, cfg.AudioPublicBaseURL)
	changeFeed := repo.NewRedisChangeFeed(redisClient, cfg.ChangeFeedChannel, log)

	// Speech synthesis
	synthesizer, credentials := newSynthesizer(ctx, cfg, log)
	clockStages := make([]entity.Stage, 0, len(cfg.ClockStages))
	for _, code := range cfg.ClockStages {
		stage, err := entity.ParseStage(code)
		if err != nil {
			log.Warn("Ignoring unknown clock stage", "stage", code)
			continue
		}
		clockStages = append(clockStages, stage)
	}
	pipeline := usecase.NewAnnouncementPipeline(templateRepository, audioStorage, synthesizer, usecase.PipelineConfig{
		Credentials:      credentials,
		VoiceID:          cfg.TTSVoiceID,
		Timeout:          cfg.TTSTimeout,
		ClockStages:      clockStages,
		PrerenderMinutes: cfg.ClockPrerenderMinute,
	}, log, m)

	// Display channel is optional
	var publisher repository.DisplayPublisher
	var mqttPublisher *display.MQTTDisplayPublisher
	if cfg.MQTTBroker != "" {
		mqttPublisher, err = display.NewMQTTDisplayPublisher(display.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, cfg.UnitID, log)
		if err != nil {
			log.Error("Display channel unavailable, announcements stay local", "error", err)
		} else {
			publisher = mqttPublisher
		}
	}
	dispatcher := usecase.NewAnnouncementDispatcher(pipeline, publisher, cfg.MaxConcurrentAnnounces, log, m)

	// Call state machine over the in-memory store and ledger
	store := repo.NewMemoryPatientStore()
	ledger := repo.NewMemoryCallHistory()
	machine := usecase.NewCallStateMachine(store, ledger, dispatcher, cfg.UnitID, log, m).
		WithPersistence(patientRepository, callArchive).
		WithChangeFeed(changeFeed)

	loaded, err := machine.Bootstrap(ctx)
	if err != nil {
		log.Fatal("Failed to load patients", "error", err)
	}
	log.Info("Patients loaded", "count", loaded)
	seedLedger(ctx, callArchive, ledger, cfg, log)

	tracker := usecase.NewFrequentPatientTracker(callArchive, cfg.FrequentWindowDays, cfg.FrequentThreshold, log)
	scheduler := usecase.NewPhraseScheduler(phraseRepository, location, log)
	sweeper := usecase.NewCacheSweeper(audioStorage, cfg.CacheTTL, log)

	reconcilerDone, err := usecase.NewChangeReconciler(changeFeed, machine, log).Start(ctx)
	if err != nil {
		log.Fatal("Failed to start change reconciler", "error", err)
	}

	// Background tasks
	workers := worker.NewManager(time.Minute, log, m)
	workers.Register(worker.Func("frequent-patients", cfg.FrequentRefreshInterval, tracker.Refresh))
	workers.Register(worker.Func("scheduled-phrases", cfg.PhraseRefreshInterval, scheduler.Refresh))
	workers.Register(worker.Func("audio-cache-sweep", cfg.CacheSweepInterval, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	}))
	workers.Register(worker.Func("clock-prerender", cfg.PrerenderInterval, func(ctx context.Context) error {
		_, err := pipeline.PrerenderClock(ctx, time.Now().In(location))
		return err
	}))
	workers.Register(worker.Func("queue-depth", 15*time.Second, machine.RecordQueueDepth))
	workers.Start(ctx)

	// Set up HTTP server
	handler := httpapi.NewHandler(httpapi.Deps{
		Machine:    machine,
		Ledger:     ledger,
		Tracker:    tracker,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Audio:      audioStorage,
		Unit:       cfg.UnitID,
		Location:   location,
	}, log)

	rt := router.NewRouter(prometheus.DefaultGatherer, cfg.AppVersion, log)
	rt.Register(handler)
	rt.AddHealthCheck("mongodb", func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) })
	rt.AddHealthCheck("postgres", sqlDB.PingContext)
	rt.AddHealthCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rt.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal", "signal", sig)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	cancel() // Cancel the context to stop all goroutines
	workers.Stop()
	<-reconcilerDone
	dispatcher.Close()
	if mqttPublisher != nil {
		mqttPublisher.Close()
	}

	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Error("MongoDB disconnect error", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Error("Redis close error", "error", err)
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("PostgreSQL close error", "error", err)
	}

	log.Info("Patient Call Service stopped")
}

// newSynthesizer picks the provider and the credentials rotated between calls
func newSynthesizer(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.SpeechSynthesizer, []string) {
	switch cfg.TTSProvider {
	case "google":
		googleOAuth := oauth.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRefreshToken, log)
		credentials := append([]string(nil), cfg.TTSAPIKeys...)
		if googleOAuth.Configured() {
			credentials = append(credentials, tts.OAuthCredential)
		}
		return tts.NewGoogleSynthesizer(googleOAuth.GetTokenSource(ctx), cfg.TTSLanguageCode, log), credentials
	default:
		return tts.NewRestSynthesizer(cfg.TTSBaseURL, cfg.TTSModelID, cfg.TTSTimeout, log), cfg.TTSAPIKeys
	}
}

// seedLedger restores the unit's recent calls so history survives a restart
func seedLedger(ctx context.Context, archive, ledger repository.CallHistoryRepository, cfg *config.Config, log logger.Logger) {
	since := time.Now().AddDate(0, 0, -1)
	events, err := archive.RecentByUnit(ctx, cfg.UnitID, since)
	if err != nil {
		log.Warn("Failed to restore call history", "error", err)
		return
	}
	// archive returns newest first, the ledger keeps call order
	for i := len(events) - 1; i >= 0; i-- {
		if err := ledger.Append(ctx, events[i]); err != nil {
			log.Warn("Failed to restore call event", "eventId", events[i].ID, "error", err)
		}
	}
	log.Info("Call history restored", "events", len(events))
}
