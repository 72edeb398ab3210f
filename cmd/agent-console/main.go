// cmd/agent-console — 会话同步引擎主入口。
//
// 连接后端 REST + WebSocket 事件流, 维护本地会话镜像,
// 可选启动本地诊断面板与 PostgreSQL 日志落盘。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/multi-agent/agent-console/internal/api"
	"github.com/multi-agent/agent-console/internal/config"
	"github.com/multi-agent/agent-console/internal/dashboard"
	"github.com/multi-agent/agent-console/internal/database"
	"github.com/multi-agent/agent-console/internal/sched"
	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/internal/stream"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	// 可选 PG 日志落盘
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("postgres pool init failed", logger.FieldError, err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, "./migrations"); err != nil {
			logger.Fatal("migration failed", logger.FieldError, err)
		}
		logger.AttachDBSink(pool)
		defer logger.ShutdownDBSink()
	}

	backend := api.New(cfg.BackendBaseURL)
	sess := session.NewManager(cfg, backend, sched.NewReal())

	streams := stream.NewManager(
		stream.NewWSDialer(cfg.BackendBaseURL),
		sched.NewReal(),
		sess.HandleEvent,
		sess.ShouldRetry,
		stream.Options{
			BackoffBase:  cfg.ReconnectBase(),
			BackoffMax:   cfg.ReconnectMax(),
			MaxRetries:   cfg.ReconnectRetries,
			RestartFloor: int64(cfg.RestartSeqFloor),
		},
	)
	sess.AttachStreams(streams)
	defer sess.Close()

	if err := sess.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrap failed", logger.FieldError, err)
	}

	if cfg.DashboardAddr != "" {
		srv := dashboard.NewServer(sess)
		util.SafeGo(func() {
			if err := srv.Run(ctx, cfg.DashboardAddr); err != nil {
				logger.Error("dashboard server failed", logger.FieldError, err)
				cancel()
			}
		})
	}

	logger.Info("agent-console started", logger.FieldURL, cfg.BackendBaseURL)
	<-ctx.Done()
	logger.Info("shutting down")
}
