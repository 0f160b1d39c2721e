package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/discordauth/internal/config"
	"github.com/hitoshi/discordauth/internal/discord"
	"github.com/hitoshi/discordauth/internal/handler"
	"github.com/hitoshi/discordauth/internal/logger"
	"github.com/hitoshi/discordauth/internal/metrics"
	"github.com/hitoshi/discordauth/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout は処理中リクエストの完了を待つ最大時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port, err := config.GetPort()
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("frontend_url", cfg.FrontendURL),
		slog.String("discord_api_base_url", cfg.DiscordAPIBaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg)
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()

	router, err := newHandler(cfg, reg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Discordへの2回の呼び出しが収まるようにタイムアウトを確保する
		WriteTimeout: 2*cfg.ProviderTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, server)
}

// newHandler は全依存関係をワイヤリングしたHTTPハンドラーを返す。
func newHandler(cfg *config.Config, reg *prometheus.Registry) (http.Handler, error) {
	// 1. メトリクスの初期化
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. Discord API用のHTTPクライアント（接続先をAPIホストに限定）
	httpClient, err := security.NewProviderClient(cfg.DiscordAPIBaseURL, cfg.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid discord api base url: %w", err)
	}

	// 3. Discordクライアントの初期化
	discordClient := discord.NewClient(discord.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		APIBaseURL:   cfg.DiscordAPIBaseURL,
		HTTPClient:   httpClient,
		Recorder:     collector,
	})

	// 4. ルーターの構築
	return handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		FrontendURL:    cfg.FrontendURL,
		Discord:        discordClient,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
	}), nil
}

// serve はサーバーを起動し、ctxのキャンセルまでブロックする。
// 起動に失敗した場合はそのエラーを返す。
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// / エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/", port)
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

// exitCode はRunの結果をプロセスの終了コードに変換する。
func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

// Main はcmd/discordauthから呼ばれ、終了コードを返す。
func Main() int {
	err := Run(os.Stdout, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode(err)
}
