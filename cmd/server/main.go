package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arl/statsviz"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/14-lobby-directory/internal"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "lobbyd",
	Short:        "遊戲大廳目錄服務",
	Long:         `lobbyd 提供大廳創建、列表、加入碼查詢、加入/離開與心跳存活檢測。`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "啟動 HTTP/WebSocket 服務",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "輸出生效中的配置（YAML）",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := internal.LoadConfig(configFile)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置檔路徑（YAML）")
	rootCmd.AddCommand(serveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve 組裝並啟動服務，收到中斷信號後優雅關閉
func serve(ctx context.Context) error {
	cfg, err := internal.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	identity, err := internal.NewIdentityStub(cfg.Lobby.NameCacheTTL, logger)
	if err != nil {
		return err
	}
	defer identity.Close()

	store := internal.NewStore(cfg.Lobby.StoreConfig())
	directory := internal.NewDirectory(store, identity, internal.DirectoryConfig{
		MaxNameLength:  cfg.Lobby.MaxNameLength,
		MaxDataEntries: cfg.Lobby.MaxDataEntries,
	}, logger)

	// WebSocket Hub 同時是事件發布者
	wsHub := internal.NewWebSocketHub(directory, logger)
	directory.Subscribe(wsHub)

	publishers, closePublishers, err := internal.ConnectPublishers(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closePublishers()
	for _, p := range publishers {
		directory.Subscribe(p)
	}

	// 心跳監控：被清理的大廳同時斷開其 WebSocket 連線
	monitor := internal.NewHeartbeatMonitor(store, cfg.Lobby.SweepInterval, logger)
	monitor.OnEvict(func(lobby internal.Lobby) {
		wsHub.DisconnectLobby(lobby.ID)
	})
	monitor.Start()

	handler := internal.NewHandler(directory, logger)

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws/lobbies/{lobby_id}", wsHub.ServeWS)

	if cfg.Debug.Statsviz {
		if err := statsviz.Register(mux); err != nil {
			return fmt.Errorf("register statsviz: %w", err)
		}
		logger.Info("啟動監控", "url", fmt.Sprintf("http://localhost:%d/debug/statsviz/", cfg.Server.Port))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("大廳目錄服務器啟動",
			"port", cfg.Server.Port,
			"heartbeat_ttl", cfg.Lobby.HeartbeatTTL,
			"log_level", cfg.Log.Level,
			"log_format", cfg.Log.Format)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("收到關閉信號，開始優雅關閉...")
	case err := <-errCh:
		logger.Error("服務器啟動失敗", "error", err)
		monitor.Stop()
		wsHub.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	monitor.Stop()
	wsHub.Stop()

	logger.Info("服務器已關閉")
	return nil
}

// setupLogger 設置日誌
//
// text 格式使用 charmbracelet/log（實現 slog.Handler），json 格式使用標準 JSON handler。
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: logLevel == slog.LevelDebug, // debug 模式顯示源碼位置
		}))
	}

	handler := charmlog.NewWithOptions(os.Stdout, charmlog.Options{
		Prefix:          "lobbyd",
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		ReportCaller:    logLevel == slog.LevelDebug,
		Level:           charmlog.Level(logLevel),
	})
	return slog.New(handler)
}
