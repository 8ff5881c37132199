// CareCover 后台任务进程
// 消费覆盖重算任务

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paiban/carecover/internal/app"
	"github.com/paiban/carecover/internal/config"
	"github.com/paiban/carecover/internal/jobs"
	"github.com/paiban/carecover/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat, Output: "stdout"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// worker 自身只做同步重算，不再向队列投递
	cfg.Queue.Enabled = false
	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化失败")
	}
	defer deps.Close()

	srv := jobs.NewServer(deps.RedisOpt(), cfg.Queue.Concurrency, cfg.Queue.Queue, log)
	mux := jobs.NewHandler(deps.Service, deps.Metrics, log).Mux()

	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("任务进程启动失败")
	}
	log.Info().
		Str("queue", cfg.Queue.Queue).
		Int("concurrency", cfg.Queue.Concurrency).
		Msg("任务进程已启动")

	<-ctx.Done()
	log.Info().Msg("正在关闭任务进程...")
	srv.Shutdown()
	log.Info().Msg("任务进程已关闭")
}
