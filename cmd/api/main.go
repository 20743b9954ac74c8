package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"avatarstudio/api/internal/app"
	"avatarstudio/api/internal/attachment"
	"avatarstudio/api/internal/config"
	"avatarstudio/api/internal/feed"
	"avatarstudio/api/internal/search"
	"avatarstudio/api/internal/session"
	"avatarstudio/api/internal/store"
	"avatarstudio/api/internal/wizard"
)

var rootCmd = &cobra.Command{
	Use:   "avatar-api",
	Short: "Avatar authoring API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, reindexCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	blobs, err := attachment.NewMinioBlobs(attachment.MinioConfig{
		Endpoint:   cfg.MinioEndpoint,
		AccessKey:  cfg.MinioAccessKey,
		SecretKey:  cfg.MinioSecretKey,
		Bucket:     cfg.MinioBucket,
		UseSSL:     cfg.MinioUseSSL,
		PublicURL:  cfg.MinioPublicURL,
		PresignTTL: cfg.PresignTTL,
	})
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Printf("WARNING: blob storage not ready: %v", err)
	}
	files := attachment.NewStore(blobs, uploadPolicies(cfg))

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	// Redis carries both the draft cache and the change feed so several API
	// processes can serve the same profiles.
	var drafts wizard.DraftCache
	var transport feed.Transport
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for wizard drafts and the change feed")
		redisDrafts, err := session.NewRedisDraftStore(cfg.RedisURL, cfg.DraftTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisDrafts.Close()
		drafts = redisDrafts
		transport = feed.NewRedisTransport(redisDrafts.Client())
	} else {
		log.Printf("Using in-process wizard drafts and change feed")
		drafts = session.NewMemoryDraftStore()
	}
	hub := feed.NewHub(transport)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("change feed stopped: %v", err)
		}
	}()

	service := app.New(cfg, app.Deps{
		Store:  dataStore,
		Files:  files,
		Hub:    hub,
		Drafts: drafts,
		Search: searchService,
		Checks: readyChecks(blobs, drafts),
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	go service.RunWizardReaper(ctx, time.Minute)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// No write timeout: profile event streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Avatar API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func uploadPolicies(cfg config.Config) map[attachment.Purpose]attachment.Policy {
	policies := attachment.DefaultPolicies()
	limits := map[attachment.Purpose]int64{
		attachment.PurposeKnowledge:   cfg.MaxDocumentBytes,
		attachment.PurposeAvatarImage: cfg.MaxAvatarImageBytes,
		attachment.PurposeUserPicture: cfg.MaxUserPictureBytes,
	}
	for purpose, limit := range limits {
		if limit <= 0 {
			continue
		}
		policy := policies[purpose]
		policy.MaxBytes = limit
		policies[purpose] = policy
	}
	return policies
}

func readyChecks(blobs *attachment.MinioBlobs, drafts wizard.DraftCache) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"storage": blobs.Ping,
	}
	if rd, ok := drafts.(*session.RedisDraftStore); ok {
		checks["redis"] = rd.Ping
	}
	return checks
}
