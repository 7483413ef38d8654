package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"canopy/api/internal/app"
	"canopy/api/internal/banner"
	"canopy/api/internal/config"
	"canopy/api/internal/notion"
	"canopy/api/internal/search"
	"canopy/api/internal/session"
	"canopy/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	opts := []app.Option{}

	pgSearch := search.NewPostgres(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgSearch)
	} else {
		searchService = search.NewService(nil, pgSearch)
	}
	opts = append(opts, app.WithSearch(searchService))

	// Redis holds refresh tokens and in-flight drags so any replica can
	// serve the next pointer event.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh tokens and drag gestures")
		client, err := session.Dial(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer client.Close()
		opts = append(opts,
			app.WithRefreshStore(session.NewRedisStoreWithClient(client)),
			app.WithGestures(session.NewRedisGestures(client, cfg.GestureTTL)),
		)
	} else {
		log.Printf("Using PostgreSQL for refresh tokens, drag gestures stay in memory")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := banner.NewMinioStore(ctx, banner.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			BaseURL:   cfg.CoverBaseURL,
		})
		if err != nil {
			log.Printf("WARNING: cover uploads disabled: %v", err)
		} else {
			opts = append(opts, app.WithCovers(banner.NewUploader(objects, cfg.CoverMaxBytes)))
		}
	}

	notionClient := notion.New(notion.Config{
		ClientID:     cfg.NotionClientID,
		ClientSecret: cfg.NotionClientSecret,
		TokenURL:     cfg.NotionTokenURL,
		APIURL:       cfg.NotionAPIURL,
		PublicURL:    cfg.PublicURL,
	})
	if notionClient.Enabled() {
		opts = append(opts, app.WithNotion(notionClient))
	}

	service := app.New(cfg, dataStore, opts...)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	go searchService.Reindex(context.Background(), pgSearch)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Canopy API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	searchService.Flush()
}
