package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/interviewer/internal/auth"
	"github.com/pavelanni/interviewer/internal/clip"
	"github.com/pavelanni/interviewer/internal/handler"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/interview"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/questions"
	"github.com/pavelanni/interviewer/internal/scoring"
	"github.com/pavelanni/interviewer/internal/session"
	"github.com/pavelanni/interviewer/internal/store"
)

func main() {
	// A missing .env is normal; real environment variables still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "interviewer",
		Short: "Mock interview server with recorded, automatically scored answers",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `interviewer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", store.DriverSQLite, "Database driver (sqlite, pgx)")
	f.String("db", "interviewer.db", "SQLite path or PostgreSQL connection string")
	f.StringP("questions", "q", "", "Question bank YAML file (empty = built-in bank)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP interview server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("session-backend", "memory", "Interview session store (memory, redis, sql)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis session backend")
	f.String("redis-password", "", "Redis password")
	f.Duration("session-ttl", 24*time.Hour, "Idle lifetime of an interview session")
	f.String("scoring-backend", "http", "Scoring backend (http, whisper)")
	f.String("scoring-url", "http://127.0.0.1:5001/process", "Scoring service endpoint for the http backend")
	f.Duration("scoring-timeout", 60*time.Second, "Upper bound on one scoring call")
	f.String("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL for the whisper backend")
	f.String("openai-key", "", "API key for the whisper backend")
	f.String("whisper-model", "whisper-1", "Transcription model for the whisper backend")
	f.String("clip-backend", "disk", "Where uploaded clips are held while scored (disk, minio)")
	f.String("clip-dir", filepath.Join(os.TempDir(), "interviewer-clips"), "Spool directory for the disk clip backend")
	f.String("minio-endpoint", "localhost:9000", "MinIO endpoint for the minio clip backend")
	f.String("minio-access-key", "", "MinIO access key")
	f.String("minio-secret-key", "", "MinIO secret key")
	f.String("minio-bucket", "interview-clips", "MinIO bucket for spooled clips")
	f.Bool("minio-ssl", false, "Use TLS for MinIO")
	f.Int64("max-clip-bytes", 50<<20, "Maximum size of one uploaded answer")
	f.String("google-client-id", "", "Google OAuth client ID (empty disables Google sign-in)")
	f.String("google-client-secret", "", "Google OAuth client secret")
	f.String("public-url", "http://localhost:8080", "Externally visible base URL for mail links and OAuth callbacks")
	f.String("smtp-addr", "", "SMTP relay host:port (empty logs verification links instead)")
	f.String("smtp-user", "", "SMTP username")
	f.String("smtp-password", "", "SMTP password")
	f.String("mail-from", "noreply@localhost", "Sender address for verification mail")
	f.StringSlice("cors-origins", nil, "Origins allowed to call the server cross-site (repeatable)")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /interview)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export final interview scores as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("INTERVIEWER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("interviewer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/interviewer")
	v.AddConfigPath("/etc/interviewer")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	// Open database.
	db, err := store.New(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	qs, err := questions.Load(v.GetString("questions"))
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	scoringTimeout := v.GetDuration("scoring-timeout")
	sessions, closeSessions, err := openSessions(ctx, v, db, scoringTimeout)
	if err != nil {
		return err
	}
	defer closeSessions()

	scorer, err := openScorer(ctx, v, qs)
	if err != nil {
		return err
	}

	spool, err := openSpool(v)
	if err != nil {
		return err
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	publicURL := strings.TrimRight(v.GetString("public-url"), "/") + basePath

	mailer, err := openMailer(v)
	if err != nil {
		return err
	}
	authSvc := auth.NewService(db, mailer, func(token string) string {
		return publicURL + "/verify/" + token
	})

	var provider auth.Provider
	if id, secret := v.GetString("google-client-id"), v.GetString("google-client-secret"); id != "" && secret != "" {
		provider = auth.NewGoogleProvider(id, secret, publicURL+"/auth/google/callback")
		slog.Info("Google sign-in enabled")
	}

	ctrl, err := interview.NewController(sessions, scorer, spool, db, qs,
		interview.WithScoringTimeout(scoringTimeout))
	if err != nil {
		return fmt.Errorf("create interview controller: %w", err)
	}

	appCfg := model.AppConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PublicURL:     publicURL,
		MaxClipBytes:  v.GetInt64("max-clip-bytes"),
		SessionTTL:    v.GetDuration("session-ttl"),
	}
	h, err := handler.New(ctrl, authSvc, provider, appCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware)

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"session_backend", v.GetString("session-backend"),
		"scoring_backend", v.GetString("scoring-backend"),
		"clip_backend", v.GetString("clip-backend"),
		"questions", len(qs),
		"lang", lang,
		"base_path", basePath,
	)

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}
	slog.Info("shutting down")
	// In-flight answers may be waiting on the scorer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), scoringTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openSessions(ctx context.Context, v *viper.Viper, db *store.Store, scoringTimeout time.Duration) (session.Store, func(), error) {
	ttl := v.GetDuration("session-ttl")
	switch backend := v.GetString("session-backend"); backend {
	case "memory":
		return session.NewMemoryStore(ttl), func() {}, nil
	case "redis":
		// A lock outlives the longest request that may hold it.
		rs := session.NewRedisStore(v.GetString("redis-addr"), v.GetString("redis-password"), ttl, scoringTimeout+15*time.Second)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("redis session store: %w", err)
		}
		slog.Info("redis session store OK", "addr", v.GetString("redis-addr"))
		return rs, func() { rs.Close() }, nil
	case "sql":
		ss := db.Sessions(ttl)
		n, err := ss.CleanupExpiredSessions(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("clean up expired sessions: %w", err)
		}
		slog.Info("sql session store ready", "expired_removed", n)
		return ss, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", backend)
	}
}

func openScorer(ctx context.Context, v *viper.Viper, qs []model.Question) (scoring.Scorer, error) {
	switch backend := v.GetString("scoring-backend"); backend {
	case "http":
		slog.Info("scoring via HTTP service", "url", v.GetString("scoring-url"))
		return scoring.NewHTTPClient(v.GetString("scoring-url"), &http.Client{}), nil
	case "whisper":
		wc := scoring.NewWhisperClient(v.GetString("openai-url"), v.GetString("openai-key"), v.GetString("whisper-model"), qs)
		if err := wc.Ping(ctx); err != nil {
			return nil, fmt.Errorf("transcription endpoint health check: %w", err)
		}
		slog.Info("transcription endpoint OK", "url", v.GetString("openai-url"), "model", v.GetString("whisper-model"))
		return wc, nil
	default:
		return nil, fmt.Errorf("unknown scoring backend %q", backend)
	}
}

func openSpool(v *viper.Viper) (clip.Spool, error) {
	maxBytes := v.GetInt64("max-clip-bytes")
	switch backend := v.GetString("clip-backend"); backend {
	case "disk":
		return clip.NewDiskSpool(v.GetString("clip-dir"), maxBytes)
	case "minio":
		ms, err := clip.NewMinioSpool(
			v.GetString("minio-endpoint"),
			v.GetString("minio-access-key"),
			v.GetString("minio-secret-key"),
			v.GetString("minio-bucket"),
			v.GetBool("minio-ssl"),
			maxBytes,
		)
		if err != nil {
			return nil, fmt.Errorf("minio clip spool: %w", err)
		}
		return ms, nil
	default:
		return nil, fmt.Errorf("unknown clip backend %q", backend)
	}
}

func openMailer(v *viper.Viper) (auth.Mailer, error) {
	addr := v.GetString("smtp-addr")
	if addr == "" {
		slog.Warn("no SMTP relay configured, verification links will be logged")
		return auth.LogMailer{}, nil
	}
	m, err := auth.NewSMTPMailer(addr, v.GetString("smtp-user"), v.GetString("smtp-password"), v.GetString("mail-from"))
	if err != nil {
		return nil, fmt.Errorf("smtp mailer: %w", err)
	}
	return m, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	qs, err := questions.Load(v.GetString("questions"))
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	export, err := db.ExportScores(ctx, len(qs))
	if err != nil {
		return fmt.Errorf("export scores: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported scores", "users", len(export.Results))
	return nil
}
