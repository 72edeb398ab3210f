// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"time"

	"github.com/multi-agent/agent-console/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 后端
	BackendBaseURL string `env:"CONSOLE_BACKEND_URL" default:"http://127.0.0.1:8317"`

	// 订阅重连
	ReconnectBaseMS  int `env:"CONSOLE_RECONNECT_BASE_MS" default:"1000" min:"1"`
	ReconnectMaxMS   int `env:"CONSOLE_RECONNECT_MAX_MS" default:"16000" min:"1"`
	ReconnectRetries int `env:"CONSOLE_RECONNECT_RETRIES" default:"5" min:"0"`

	// 序列号回退判定: last_seq 超过该水位后出现大幅回退 → 服务端重启
	RestartSeqFloor int `env:"CONSOLE_RESTART_SEQ_FLOOR" default:"64" min:"1"`

	// 工具块展开上限 (FIFO 折叠)
	ToolExpandDepth int `env:"CONSOLE_TOOL_EXPAND_DEPTH" default:"2" min:"1"`

	// turn 收敛后延迟清理流式块 (折叠动画时长 + 余量)
	CompleteClearDelayMS int `env:"CONSOLE_COMPLETE_CLEAR_DELAY_MS" default:"350" min:"0"`

	// spawn 关联重试延迟
	SpawnRetryDelayMS int `env:"CONSOLE_SPAWN_RETRY_DELAY_MS" default:"500" min:"1"`

	// sendMessage 硬超时 (秒)
	SendTimeoutSec int `env:"CONSOLE_SEND_TIMEOUT_SEC" default:"300" min:"1"`

	// 本地诊断面板; 为空则不启动
	DashboardAddr string `env:"CONSOLE_DASHBOARD_ADDR" default:""`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"CONSOLE_LOG_DIR" default:""`

	// 可选 PG 日志落盘
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"0"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"4" min:"1"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// ReconnectBase 返回重连退避基础延迟。
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax 返回重连退避延迟上限。
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMS) * time.Millisecond
}

// CompleteClearDelay 返回 turn 完成后的清理延迟。
func (c *Config) CompleteClearDelay() time.Duration {
	return time.Duration(c.CompleteClearDelayMS) * time.Millisecond
}

// SpawnRetryDelay 返回 spawn 关联重试延迟。
func (c *Config) SpawnRetryDelay() time.Duration {
	return time.Duration(c.SpawnRetryDelayMS) * time.Millisecond
}

// SendTimeout 返回 sendMessage 硬超时。
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}
