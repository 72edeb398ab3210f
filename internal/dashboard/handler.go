// handler.go — Dashboard REST API handlers。
package dashboard

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/agent-console/internal/api"
	"github.com/multi-agent/agent-console/internal/timeline"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { success(c, gin.H{"status": "ok"}) })

	apiGroup := s.router.Group("/api")

	apiGroup.GET("/state", s.getState)
	apiGroup.GET("/threads/:id/blocks", s.getThreadBlocks)
	apiGroup.GET("/threads/:id/status", s.getThreadStatus)

	apiGroup.POST("/threads", s.createThread)
	apiGroup.POST("/active-thread", s.setActiveThread)
	apiGroup.POST("/threads/:id/messages", s.sendMessage)
	apiGroup.POST("/threads/:id/stop", s.stopThread)
	apiGroup.POST("/threads/:id/title", s.setTitle)
	apiGroup.POST("/threads/:id/archive", s.archiveThread)
	apiGroup.POST("/threads/:id/unarchive", s.unarchiveThread)
	apiGroup.POST("/threads/:id/answers", s.submitAnswers)
	apiGroup.POST("/threads/:id/plan", s.submitPlanAction)
	apiGroup.POST("/threads/:id/older-messages", s.loadOlderMessages)

	s.router.GET("/events", s.sseHandler)
}

// ========================================
// 状态查询
// ========================================

func (s *Server) getState(c *gin.Context) {
	success(c, s.sessions.Snapshot())
}

func (s *Server) getThreadBlocks(c *gin.Context) {
	blocks := s.sessions.ThreadBlocks(c.Param("id"))
	if blocks == nil {
		// 未知线程返回空数组而非 404: 前端轮询容忍新建线程的竞态
		blocks = []timeline.Block{}
	}
	success(c, blocks)
}

func (s *Server) getThreadStatus(c *gin.Context) {
	success(c, gin.H{"status": s.sessions.ThreadStatus(c.Param("id"))})
}

// ========================================
// 命令
// ========================================

func (s *Server) createThread(c *gin.Context) {
	var req api.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	t, err := s.sessions.CreateThread(c.Request.Context(), req)
	if err != nil {
		serverError(c, err)
		return
	}
	created(c, t)
}

func (s *Server) setActiveThread(c *gin.Context) {
	var req struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	s.sessions.SetActiveThread(req.ThreadID)
	success(c, gin.H{"active_thread_id": req.ThreadID})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Content  string   `json:"content"`
		Images   []string `json:"images"`
		FileRefs []string `json:"file_refs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SendMessage(c.Request.Context(), c.Param("id"), req.Content, req.Images, req.FileRefs); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) stopThread(c *gin.Context) {
	if err := s.sessions.Stop(c.Request.Context(), c.Param("id")); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) setTitle(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SetTitle(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) archiveThread(c *gin.Context) {
	if err := s.sessions.Archive(c.Request.Context(), c.Param("id")); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) unarchiveThread(c *gin.Context) {
	if err := s.sessions.Unarchive(c.Request.Context(), c.Param("id")); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) submitAnswers(c *gin.Context) {
	var req struct {
		Answers []string `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SubmitAnswers(c.Request.Context(), c.Param("id"), req.Answers); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			notFound(c, err.Error())
			return
		}
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) submitPlanAction(c *gin.Context) {
	var req api.PlanActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.sessions.SubmitPlanAction(c.Request.Context(), c.Param("id"), req); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}

func (s *Server) loadOlderMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 {
		limit = 50
	}
	if err := s.sessions.LoadOlderMessages(c.Request.Context(), c.Param("id"), limit, offset); err != nil {
		serverError(c, err)
		return
	}
	success(c, gin.H{"ok": true})
}
