package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"saavnbridge/audio"
	"saavnbridge/bridge"
	"saavnbridge/cache"
	"saavnbridge/coalesce"
	appConfig "saavnbridge/config"
	"saavnbridge/database"
	"saavnbridge/httpclient"
	"saavnbridge/model"
	"saavnbridge/player"
	"saavnbridge/ratelimit"
	"saavnbridge/resolver"
	"saavnbridge/saavn"
	appsentry "saavnbridge/sentry"
	"saavnbridge/spotify"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf("Error loading .env file: %v", err)
	}
	appConfig.NewConfig()
	setupLogging(appConfig.Config.Options.LogLevel)

	if err := appsentry.Init(appConfig.Config.Options.SentryDSN, os.Getenv("RELEASE")); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer appsentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(level string) {
	log.SetFormatter(&nested.Formatter{
		FieldsOrder:     []string{"module"},
		TimestampFormat: time.RFC3339,
		HideKeys:        true,
	})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func run(ctx context.Context) error {
	cfg := appConfig.Config

	db, err := database.Open(cfg.Options.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	responses := cache.New[string, *httpclient.Response](cfg.Cache.TTL,
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithName("responses"),
	)
	resolved := cache.NewDurable[model.ResolvedTrack](db, "resolved", cfg.Cache.TTL)
	go responses.Run(ctx, cfg.Cache.SweepInterval)
	go resolved.Run(ctx, cfg.Cache.SweepInterval)

	client := httpclient.New(
		responses,
		ratelimit.New(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow),
		coalesce.New[*httpclient.Response](cfg.HTTP.MaxConcurrent),
		httpclient.Options{
			Timeout: cfg.HTTP.Timeout,
			Retries: cfg.HTTP.Retries,
		},
	)

	fallback, err := saavn.NewFallback()
	if err != nil {
		return err
	}
	catalog := saavn.NewSupervisor(saavn.NewLive(client, cfg.Saavn.BaseURL), fallback)
	tracks := resolver.New(catalog, resolved, resolver.Options{})

	engine := audio.NewMPVEngine(audio.MPVOptions{Path: cfg.Playback.MPVPath})
	playback := player.New(engine, tracks, player.Options{
		PreferredQuality: cfg.Playback.PreferredQuality,
		SetupAttempts:    cfg.Playback.SetupAttempts,
		SetupDelay:       cfg.Playback.SetupDelay,
		History:          db,
	})
	if err := playback.Setup(ctx); err != nil {
		// the bridge still serves search and resolution; playback reports
		// the failure until reset
		log.Errorf("Audio engine unavailable: %v", err)
	}
	go playback.Run(ctx)

	services := bridge.Services{
		Catalog:  catalog,
		Resolver: tracks,
		Player:   playback,
		History:  db,
	}
	if cfg.Spotify.IsEnabled() {
		playlists, err := spotify.New(ctx, spotify.Config{
			ClientID:      cfg.Spotify.ClientID,
			ClientSecret:  cfg.Spotify.ClientSecret,
			PlaylistLimit: cfg.Spotify.PlaylistLimit,
		})
		if err != nil {
			return err
		}
		services.Playlists = playlists
	} else {
		log.Info("Spotify disabled, playlist import routes are off")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Options.Port,
		Handler:           bridge.New(services).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Starting server on :%s", cfg.Options.Port)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := playback.Reset(shutdownCtx); err != nil {
		log.Warnf("Failed to stop playback: %v", err)
	}
	return server.Shutdown(shutdownCtx)
}
