// Package dashboard 提供本地诊断面板 HTTP 服务: 会话状态只读镜像 + 命令入口 + SSE 推送。
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/agent-console/internal/session"
	"github.com/multi-agent/agent-console/pkg/logger"
	"github.com/multi-agent/agent-console/pkg/util"
)

// Server Dashboard HTTP 服务。
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	bus      *EventBus
}

// NewServer 创建 Dashboard 服务。
func NewServer(sessions *session.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{router: r, sessions: sessions, bus: NewEventBus()}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Run 启动服务并阻塞到 ctx 取消。会话每次状态变化都镜像到 SSE 总线。
func (s *Server) Run(ctx context.Context, addr string) error {
	changes, cancel := s.sessions.Watch()
	defer cancel()
	util.SafeGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				s.bus.Publish(Event{Type: "state", Data: s.sessions.Snapshot()})
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: s.router}
	util.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})

	logger.Info("dashboard: listening", logger.FieldAddr, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
