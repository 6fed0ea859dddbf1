package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"memberportal/api/internal/app"
	"memberportal/api/internal/classify"
	"memberportal/api/internal/config"
	"memberportal/api/internal/crm"
	"memberportal/api/internal/member"
	"memberportal/api/internal/notify"
	"memberportal/api/internal/recordcache"
	"memberportal/api/internal/search"
	"memberportal/api/internal/session"
	"memberportal/api/internal/store"
	"memberportal/api/internal/validate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "portal-api",
		Short:         "Member self-service portal API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lookup <memberId>",
		Short: "Print every CRM category of a member as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return lookup(cmd.Context(), args[0])
		},
	})

	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	atom, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	return cfg.Build()
}

func newCRMClient(cfg config.Config, logger *zap.Logger) *crm.Client {
	return crm.NewClient(cfg.CRMBaseURL, crm.StaticToken(cfg.CRMServiceToken),
		crm.WithHTTPClient(&http.Client{Timeout: cfg.CRMTimeout}),
		crm.WithLogger(logger),
	)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*store.PostgresStore, func(), error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied", zap.String("dir", cfg.MigrationsDir), zap.Strings("applied", applied))
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

func migrate(ctx context.Context) error {
	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	_, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closeDB()
	return nil
}

func lookup(ctx context.Context, memberID string) error {
	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	id := member.ID(strings.TrimSpace(memberID))
	if id == "" {
		return errors.New("memberId is required")
	}
	client := newCRMClient(cfg, logger)
	cache := recordcache.New(client, recordcache.WithLogger(logger))
	defer cache.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*cfg.CRMTimeout)
	defer cancel()

	out := struct {
		MemberID   member.ID            `json:"memberId"`
		Tier       classify.Result      `json:"tier"`
		Categories []app.CategoryRecord `json:"categories"`
	}{
		MemberID:   id,
		Tier:       classify.New(client, logger).Classify(ctx, id),
		Categories: app.FetchCategories(ctx, cache, id),
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dataStore, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	rules, err := validate.LoadRules(cfg.RequiredFields)
	if err != nil {
		return fmt.Errorf("required fields: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := newCRMClient(cfg, logger)
	cache := recordcache.New(client,
		recordcache.WithLogger(logger),
		recordcache.WithMetrics(recordcache.NewMetrics(reg)),
	)
	defer cache.Close()

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		engine = meili
	}
	searchService := search.NewService(engine, search.NewPostgres(dataStore), logger)
	defer searchService.Wait()
	go searchService.ReindexAll(context.Background())

	notifier := notify.NewService(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, logger)
	defer notifier.Wait()
	if !notifier.IsConfigured() {
		logger.Info("smtp not configured, profile notices disabled")
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	service := app.New(app.Deps{
		Config:     cfg,
		Logger:     logger,
		Sessions:   sessions,
		Store:      dataStore,
		CRM:        client,
		Cache:      cache,
		Rules:      rules,
		Search:     searchService,
		Notify:     notifier,
		Gatherer:   reg,
		Registerer: reg,
	})
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2*cfg.CRMTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
