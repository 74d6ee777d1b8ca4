// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/clinicauth/internal/auth"
	"github.com/hitoshi/clinicauth/internal/config"
	"github.com/hitoshi/clinicauth/internal/database"
	"github.com/hitoshi/clinicauth/internal/handler"
	"github.com/hitoshi/clinicauth/internal/logger"
	"github.com/hitoshi/clinicauth/internal/metrics"
	"github.com/hitoshi/clinicauth/internal/middleware"
	"github.com/hitoshi/clinicauth/internal/repository"
	"github.com/hitoshi/clinicauth/internal/user"
	"github.com/hitoshi/clinicauth/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// storage はランタイムで選択された永続化バックエンドをまとめる。
type storage struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	backend     string
	close       func() error
}

// openStorage は永続化バックエンドを選択して開く。
// DATABASE_URLが設定されている場合はPostgreSQLへの接続を試み、
// 接続に失敗した場合・未設定の場合は単一JSONファイルのバックエンドに
// フォールバックする。フォールバックはログとメトリクスで観測可能にする。
func openStorage(cfg *config.Config, collector *metrics.Collector) (*storage, error) {
	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL)
		if err == nil {
			if pingErr := db.Ping(); pingErr == nil {
				slog.Info("database connection established")
				return &storage{
					userRepo:    repository.NewPostgresUserRepo(db),
					sessionRepo: repository.NewPostgresSessionRepo(db),
					backend:     "postgres",
					close:       db.Close,
				}, nil
			} else {
				err = pingErr
				db.Close()
			}
		}

		slog.Warn("database unavailable, falling back to file storage",
			slog.String("error", err.Error()),
			slog.String("data_file", cfg.DataFilePath),
		)
		if collector != nil {
			collector.RecordStorageFallback()
		}
	}

	store, err := repository.NewFileStore(cfg.DataFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file storage: %w", err)
	}

	slog.Info("file storage opened",
		slog.String("data_file", cfg.DataFilePath),
	)

	return &storage{
		userRepo:    store.UserRepo(),
		sessionRepo: store.SessionRepo(),
		backend:     "file",
		close:       func() error { return nil },
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. ストレージの選択
	st, err := openStorage(cfg, collector)
	if err != nil {
		return err
	}
	defer st.close()

	// 3. IDトークン検証器の初期化
	verifier := auth.NewGoogleIDTokenVerifier(auth.GoogleVerifierConfig{
		DefaultAudience: cfg.GoogleClientID,
		HTTPTimeout:     cfg.VerifyTimeout,
	})
	verifier.SetMisconfigurationHook(collector.RecordAudienceFallback)

	// 4. ドメインサービスの初期化
	authService := auth.NewService(
		st.userRepo, st.sessionRepo, verifier,
		auth.ServiceConfig{SessionTTL: cfg.SessionTTL},
	)
	userService := user.NewService(st.userRepo, st.sessionRepo)

	// 5. ルーターの構築
	// configのレート値はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.CredentialRate = rate.Limit(float64(cfg.RateLimitCredential) / 60.0)
	rateLimiterCfg.CredentialBurst = cfg.RateLimitCredential

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     st.sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		UserService: userService,

		Metrics:  collector,
		Gatherer: registry,
	})

	// 外側のミドルウェア: Recovery → Logging → Metrics
	var h http.Handler = router
	h = middleware.NewMetricsMiddleware(collector)(h)
	h = middleware.NewLoggingMiddleware(slog.Default())(h)
	h = middleware.NewRecoveryMiddleware()(h)

	// 6. 期限切れセッションの定期清掃
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupJob := cleanup.NewCleanupJob(st.sessionRepo, slog.Default(), collector)
	go cleanupJob.RunPeriodic(ctx, cfg.SweepInterval)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("storage_backend", st.backend),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// ファイルバックエンドにはスキーマがないため、DATABASE_URLが必須。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
