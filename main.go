package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"platewatch/internal/camera"
	"platewatch/internal/config"
	httphandler "platewatch/internal/http"
	"platewatch/internal/images"
	"platewatch/internal/notify"
	"platewatch/internal/recognizer"
	"platewatch/internal/repository"
	"platewatch/internal/service"
	"platewatch/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := repository.NewPlateRegistry(cfg.Registry.PlatesFile, log)
	registry.Load()

	hub := notify.NewHub(log)
	go hub.Run(ctx)

	fanout := notify.NewFanout(cfg.CameraClearWindow(), cfg.PulseClearWindow(), hub, log)
	imageStore := images.NewStore(log)
	source := camera.NewHTTPSource(cfg.SnapshotTimeout(), log)
	client := recognizer.NewClient(cfg.Recognizer.Endpoint, cfg.Recognizer.APIToken, cfg.RecognizerTimeout(), log)

	settings := session.Settings{
		Captures:           cfg.Capture.ConsecutiveCaptures,
		Interval:           cfg.CaptureInterval(),
		Regions:            cfg.Recognizer.Regions,
		TolerateOneMistake: cfg.Capture.TolerateOneMistake,
		Retention: images.Policy{
			Folder:          cfg.Retention.SaveFileFolder,
			SaveTimestamped: cfg.Retention.SaveTimestampedFile,
			SaveLatest:      cfg.Retention.AlwaysSaveLatestFile,
			MaxImages:       cfg.Retention.MaxImages,
		},
	}

	sessions := make([]*session.Session, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		name := cam.Name
		if name == "" {
			name = cam.ID
		}
		sessions = append(sessions, session.New(
			camera.Camera{
				ID:          cam.ID,
				Name:        name,
				SnapshotURL: cam.SnapshotURL,
				Username:    cam.Username,
				Password:    cam.Password,
			},
			source, client, registry, fanout, imageStore, settings, log,
		))
	}

	scanService := service.NewScanService(
		ctx, sessions, registry, imageStore,
		cfg.Retention.SaveFileFolder, cfg.Retention.MaxImages, log,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := httphandler.NewHandler(scanService, fanout, hub, log)
	handler.Register(router, httphandler.AuthMiddleware(cfg.Server.AuthSecret))

	server := &http.Server{
		Addr:    cfg.Server.Bind,
		Handler: router,
	}

	go func() {
		log.Info().
			Str("bind", cfg.Server.Bind).
			Int("cameras", len(cfg.Cameras)).
			Int("known_plates", registry.Count()).
			Msg("platewatch started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel() // stop in-flight bursts and the websocket hub

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}
