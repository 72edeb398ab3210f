package wire

import "time"

// Thread is the server's representation of one conversation thread.
type Thread struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	ParentID         string     `json:"parentId,omitempty"`
	Messages         []Message  `json:"messages,omitempty"`
	WorkDir          string     `json:"workDir,omitempty"`
	SessionID        string     `json:"sessionId,omitempty"`
	Model            string     `json:"model,omitempty"`
	ExtendedThinking bool       `json:"extendedThinking,omitempty"`
	PermissionMode   string     `json:"permissionMode,omitempty"`
	AutoReact        bool       `json:"autoReact,omitempty"`
	GitBranch        string     `json:"gitBranch,omitempty"`
	Worktree         string     `json:"worktree,omitempty"`
	ArchivedAt       *time.Time `json:"archivedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Message is one persisted conversation message.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Images    []string  `json:"images,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenUsage mirrors the server's per-thread usage counters.
type TokenUsage struct {
	InputTokens              int64 `json:"inputTokens"`
	OutputTokens             int64 `json:"outputTokens"`
	CacheCreationInputTokens int64 `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int64 `json:"cacheReadInputTokens"`
	ContextWindow            int64 `json:"contextWindow,omitempty"`
}
