// cmd/migrate — 独立迁移工具: 不启动控制台, 只把 migrations/ 应用到 PG。
package main

import (
	"context"
	"os"

	"github.com/multi-agent/agent-console/internal/config"
	"github.com/multi-agent/agent-console/internal/database"
	"github.com/multi-agent/agent-console/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if cfg.PostgresConnStr == "" {
		logger.Error("POSTGRES_CONNECTION_STRING not set")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("connect failed", logger.FieldError, err)
	}
	defer pool.Close()

	dir := "./migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := database.Migrate(ctx, pool, dir); err != nil {
		logger.Fatal("migration failed", logger.FieldError, err)
	}
	logger.Info("migration complete")
}
