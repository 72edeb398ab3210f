// Package api 封装对后端 REST 接口的调用。
//
// 错误约定: HTTP 499 (客户端主动取消) 映射为 apperrors.ErrCancelled,
// 上层按静默回滚处理; stop 碰到"已结束"的回应映射为 ErrAlreadyFinished,
// 上层吞掉。其余非 2xx 一律包装为带响应正文的 AppError。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/multi-agent/agent-console/internal/wire"
	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

// StatusClientClosedRequest 为 nginx 约定的取消码, 后端沿用。
const StatusClientClosedRequest = 499

// Client talks to the agent backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given base URL (http(s)://host:port).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 0}, // 超时由调用方 ctx 控制
	}
}

// CreateThreadRequest describes a new thread.
type CreateThreadRequest struct {
	Title          string `json:"title,omitempty"`
	WorkDir        string `json:"workDir,omitempty"`
	ParentID       string `json:"parentId,omitempty"`
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permissionMode,omitempty"`
}

// SendMessageRequest posts one user turn.
type SendMessageRequest struct {
	Content    string         `json:"content"`
	Images     []string       `json:"images,omitempty"`
	FileRefs   []string       `json:"fileRefs,omitempty"`
	Subthreads map[string]any `json:"subthreads,omitempty"`
}

// PlanActionRequest answers a pending plan approval.
type PlanActionRequest struct {
	Action         string `json:"action"` // proceed | modify | compact
	PermissionMode string `json:"permissionMode,omitempty"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, op, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apperrors.Wrap(apperrors.ErrTimeout, op, "request timeout")
		}
		if ctx.Err() == context.Canceled {
			return apperrors.Wrap(apperrors.ErrCancelled, op, "request cancelled")
		}
		return apperrors.Wrap(err, op, "request failed")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == StatusClientClosedRequest {
		return apperrors.Wrap(apperrors.ErrCancelled, op, "cancelled by client")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if isAlreadyFinished(resp.StatusCode, msg) {
			return apperrors.Wrap(apperrors.ErrAlreadyFinished, op, "thread already finished")
		}
		if msg == "" {
			msg = resp.Status
		}
		return apperrors.Newf(op, "http %d: %s", resp.StatusCode, msg)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperrors.Wrap(err, op, "decode response")
		}
	}
	return nil
}

// isAlreadyFinished 识别对已结束 thread 的 stop/cancel 回应。
func isAlreadyFinished(status int, body string) bool {
	if status != http.StatusConflict && status != http.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "already finished") ||
		strings.Contains(lower, "already stopped") ||
		strings.Contains(lower, "not running")
}

// ListThreads fetches all threads, optionally including archived ones.
func (c *Client) ListThreads(ctx context.Context, includeArchived bool) ([]wire.Thread, error) {
	path := "/api/threads"
	if includeArchived {
		path += "?archived=true"
	}
	var out struct {
		Threads []wire.Thread `json:"threads"`
	}
	if err := c.do(ctx, "API.ListThreads", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// CreateThread creates a thread and returns the server's record.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (wire.Thread, error) {
	var out struct {
		Thread wire.Thread `json:"thread"`
	}
	err := c.do(ctx, "API.CreateThread", http.MethodPost, "/api/threads", req, &out)
	return out.Thread, err
}

// PostMessage sends one user turn to a thread.
func (c *Client) PostMessage(ctx context.Context, threadID string, req SendMessageRequest) error {
	return c.do(ctx, "API.PostMessage", http.MethodPost, threadPath(threadID, "/messages"), req, nil)
}

// Stop requests server-side cancellation of the running turn.
func (c *Client) Stop(ctx context.Context, threadID string) error {
	return c.do(ctx, "API.Stop", http.MethodPost, threadPath(threadID, "/stop"), nil, nil)
}

// SetTitle renames a thread.
func (c *Client) SetTitle(ctx context.Context, threadID, title string) error {
	body := map[string]string{"title": title}
	return c.do(ctx, "API.SetTitle", http.MethodPatch, threadPath(threadID, "/title"), body, nil)
}

// SetConfig patches thread configuration; nil fields stay unchanged.
func (c *Client) SetConfig(ctx context.Context, threadID string, patch wire.ConfigChangeData) error {
	return c.do(ctx, "API.SetConfig", http.MethodPatch, threadPath(threadID, "/config"), patch, nil)
}

// DeleteMessages removes messages from a thread's history.
func (c *Client) DeleteMessages(ctx context.Context, threadID string, messageIDs []string) error {
	body := map[string][]string{"messageIds": messageIDs}
	return c.do(ctx, "API.DeleteMessages", http.MethodDelete, threadPath(threadID, "/messages"), body, nil)
}

// Archive soft-deletes a thread.
func (c *Client) Archive(ctx context.Context, threadID string) error {
	return c.do(ctx, "API.Archive", http.MethodPost, threadPath(threadID, "/archive"), nil, nil)
}

// Unarchive restores an archived thread.
func (c *Client) Unarchive(ctx context.Context, threadID string) error {
	return c.do(ctx, "API.Unarchive", http.MethodPost, threadPath(threadID, "/unarchive"), nil, nil)
}

// DeleteAll wipes every thread. confirm must be true; the backend rejects the
// call otherwise.
func (c *Client) DeleteAll(ctx context.Context, confirm bool) error {
	path := fmt.Sprintf("/api/threads?confirm=%t", confirm)
	return c.do(ctx, "API.DeleteAll", http.MethodDelete, path, nil, nil)
}

// SubmitAnswers answers a pending agent question.
func (c *Client) SubmitAnswers(ctx context.Context, threadID string, answers []string) error {
	body := map[string][]string{"answers": answers}
	return c.do(ctx, "API.SubmitAnswers", http.MethodPost, threadPath(threadID, "/answers"), body, nil)
}

// SubmitPlanAction resolves a pending plan approval.
func (c *Client) SubmitPlanAction(ctx context.Context, threadID string, req PlanActionRequest) error {
	return c.do(ctx, "API.SubmitPlanAction", http.MethodPost, threadPath(threadID, "/plan"), req, nil)
}

// OlderMessages pages backwards through persisted history.
func (c *Client) OlderMessages(ctx context.Context, threadID string, limit, offset int) ([]wire.Message, error) {
	path := fmt.Sprintf("%s?limit=%d&offset=%d", threadPath(threadID, "/messages"), limit, offset)
	var out struct {
		Messages []wire.Message `json:"messages"`
	}
	if err := c.do(ctx, "API.OlderMessages", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Usage fetches a thread's token-usage summary.
func (c *Client) Usage(ctx context.Context, threadID string) (wire.UsageData, error) {
	var out wire.UsageData
	err := c.do(ctx, "API.Usage", http.MethodGet, threadPath(threadID, "/usage"), nil, &out)
	return out, err
}

func threadPath(threadID, suffix string) string {
	return "/api/threads/" + url.PathEscape(threadID) + suffix
}

// WithTimeout derives the bounded context used for command calls.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
