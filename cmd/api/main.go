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

	"hearth/api/internal/app"
	"hearth/api/internal/archive"
	"hearth/api/internal/authpw"
	"hearth/api/internal/blob"
	"hearth/api/internal/config"
	"hearth/api/internal/export"
	"hearth/api/internal/realtime"
	"hearth/api/internal/search"
	"hearth/api/internal/session"
	"hearth/api/internal/store"
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

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("failed to create archive dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	archiveService := archive.New(cfg.ArchiveDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}
	searchService.ReindexAllFromPG(ctx)

	// The hub persists through the pipeline before fanning out, so archive
	// revisions and the search index follow every committed write.
	pipeline := app.NewContentPipeline(dataStore, archiveService, searchService)
	hub, err := realtime.NewHub(cfg.RedisURL, pipeline)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer hub.Close()

	var sessions app.SessionStore = dataStore
	if cfg.SessionStore != "postgres" {
		log.Printf("Using Redis for refresh token storage")
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis session store failed: %v", err)
		}
		defer redisSessions.Close()
		sessions = redisSessions
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	service := app.New(cfg, dataStore, sessions, authpw.NewService(dataStore), hub, archiveService, searchService)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobService, err := blob.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: attachment storage unavailable: %v", err)
		} else {
			service.SetBlob(blobService)
		}
	}
	service.SetExport(export.NewService(&app.ExportStore{Store: dataStore, Archive: archiveService}))

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
		log.Printf("Hearth API listening on %s", cfg.Addr)
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
}
