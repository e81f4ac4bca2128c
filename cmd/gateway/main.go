package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/mind-engage/courseimport/internal/api/http"
	auth "github.com/mind-engage/courseimport/internal/auth/middleware"
	"github.com/mind-engage/courseimport/internal/config"
	"github.com/mind-engage/courseimport/internal/db"
	"github.com/mind-engage/courseimport/internal/importjob"
	"github.com/mind-engage/courseimport/internal/logging"
	"github.com/mind-engage/courseimport/internal/metrics"
	"github.com/mind-engage/courseimport/internal/scorm/resolve"
	"github.com/mind-engage/courseimport/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Fields: map[string]string{"service": "courseimport", "mode": string(cfg.Mode)},
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer dbh.Close()
	jobs := importjob.NewSQLStore(dbh, cfg.DBDriver)

	// --- Blob storage ---
	bs, closeBlobs, err := openBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	defer closeBlobs()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := &importjob.Service{
		Store:        jobs,
		Blobs:        bs,
		Log:          log,
		Metrics:      m,
		Resolver:     resolve.Default(),
		MaxAssets:    cfg.Import.MaxAssets,
		AssetWorkers: cfg.Import.AssetWorkers,
		Timeout:      cfg.Import.Timeout,
	}

	authSvc := auth.NewAuthService(cfg.HMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, api.RequestLogger(log), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, auth.LoginConfig{
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
		AllowDevUsers: cfg.AllowDevUsers,
	}))

	// relocated asset URLs are embedded in course documents, so they are public
	r.Route("/assets", func(ar chi.Router) {
		ar.Use(middleware.Timeout(30 * time.Second))
		api.MountAssets(ar, bs, log)
	})

	// Protected API (JWT → role in context → RBAC)
	imports := &api.ImportHandlers{
		Importer:       svc,
		Jobs:           jobs,
		Log:            log,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
	}
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Route("/imports", imports.Mount)
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbh.PingContext(pctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBDriver), zap.String("blob", cfg.BlobDriver))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Import.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func openBlobStore(cfg config.Config) (storage.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.BlobDriver {
	case "sftp":
		s, err := storage.NewSFTPStore(storage.SFTPConfig{
			Host:                  cfg.SFTP.Host,
			Port:                  cfg.SFTP.Port,
			User:                  cfg.SFTP.User,
			Pass:                  cfg.SFTP.Pass,
			RemoteDir:             cfg.SFTP.RemoteDir,
			KnownHostsPath:        cfg.SFTP.KnownHostsPath,
			InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
			PublicURL:             cfg.BlobPublicBaseURL,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case "mem":
		return storage.NewMemStore(cfg.BlobPublicBaseURL), noop, nil
	default:
		s, err := storage.NewFSStore(cfg.BlobBasePath, cfg.BlobPublicBaseURL)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	}
}
