// CareCover 覆盖引擎服务
// 主程序入口

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

	"github.com/paiban/carecover/internal/app"
	"github.com/paiban/carecover/internal/config"
	"github.com/paiban/carecover/internal/handler"
	"github.com/paiban/carecover/internal/middleware"
	"github.com/paiban/carecover/pkg/logger"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log := logger.New(logger.Config{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat, Output: "stdout"})

	fmt.Printf("CareCover 覆盖引擎 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化失败")
	}
	defer deps.Close()

	mux := http.NewServeMux()

	// 系统端点
	handler.NewSystemHandler(cfg.App.Name, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}, deps.HealthChecks()).Register(mux)

	// Prometheus 指标端点
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, deps.Metrics.Handler())
	}

	// API v1 端点
	handler.NewCoverageHandler(deps.Service, log).Register(mux)

	// 中间件执行顺序：requestID -> recovery -> logging -> 安全头 -> 调用方 -> 限流 -> handler
	limiter := middleware.NewRateLimiter(cfg.API.RateLimit, cfg.API.Burst)
	h := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(log),
		middleware.Logging(log, deps.Metrics),
		middleware.SecurityHeaders,
		middleware.Caller("/health", "/version", cfg.Metrics.Path),
		limiter.Middleware,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      http.TimeoutHandler(h, cfg.API.Timeout, `{"error":true,"code":"TIMEOUT","message":"操作超时"}`),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 启动服务器（非阻塞）
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.App.Port).
			Str("version", Version).
			Str("env", cfg.App.Env).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 优雅关闭
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("服务器启动失败")
	}

	log.Info().Msg("正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("服务器关闭失败")
		return
	}

	log.Info().Msg("服务器已关闭")
}
