// db_sink.go — slog.Handler → PostgreSQL 异步批量落盘 (可选)。
//
// 配置 POSTGRES_CONNECTION_STRING 后挂载; 未配置时日志只走 stderr/文件。
// DB 慢或不可用绝不阻塞主流程: 缓冲满即丢弃。
package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SinkEntry 对应 console_logs 表的一行。
type SinkEntry struct {
	Ts        time.Time
	Level     string
	Message   string
	Component string
	ThreadID  string
	EventType string
	ToolName  string
	Extra     map[string]any
}

const (
	sinkBufSize    = 1024
	sinkBatchSize  = 100
	sinkFlushDelay = 500 * time.Millisecond
)

// DBSink 实现 slog.Handler，将日志异步批量写入 console_logs 表。
type DBSink struct {
	pool  *pgxpool.Pool
	buf   chan SinkEntry
	attrs []slog.Attr
	level slog.Level
	done  chan struct{}
	// closed 在 handler clone(WithAttrs/WithGroup) 间共享，
	// 避免 shutdown 后继续写入已关闭通道 panic。
	closed *atomic.Bool
}

// NewDBSink 创建并启动后台写入 goroutine。
func NewDBSink(pool *pgxpool.Pool, level slog.Level) *DBSink {
	s := &DBSink{
		pool:   pool,
		buf:    make(chan SinkEntry, sinkBufSize),
		level:  level,
		done:   make(chan struct{}),
		closed: &atomic.Bool{},
	}
	go s.consumeLoop()
	return s
}

// Enabled 实现 slog.Handler。
func (s *DBSink) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.level
}

// Handle 实现 slog.Handler — 构造 SinkEntry 推入异步缓冲。
func (s *DBSink) Handle(_ context.Context, r slog.Record) error {
	if s.closed != nil && s.closed.Load() {
		return nil
	}

	entry := SinkEntry{
		Ts:      r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	for _, a := range s.attrs {
		applySinkAttr(&entry, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		applySinkAttr(&entry, a)
		return true
	})

	// 非阻塞推入 — chan 满时 drop
	func() {
		defer func() {
			if recover() != nil {
				// shutdown 期间通道被关闭: 丢弃该条日志。
			}
		}()
		select {
		case s.buf <- entry:
		default:
		}
	}()
	return nil
}

// WithAttrs 实现 slog.Handler。
func (s *DBSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, len(s.attrs)+len(attrs))
	copy(next, s.attrs)
	copy(next[len(s.attrs):], attrs)
	return &DBSink{
		pool:   s.pool,
		buf:    s.buf,
		attrs:  next,
		level:  s.level,
		done:   s.done,
		closed: s.closed,
	}
}

// WithGroup 实现 slog.Handler。group 名并入 Extra, 不单独建列。
func (s *DBSink) WithGroup(string) slog.Handler { return s }

// Shutdown 停止后台 goroutine 并 flush 剩余日志。
func (s *DBSink) Shutdown() {
	if s.closed != nil && !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.buf)
	<-s.done
}

// consumeLoop 后台批量消费 chan → INSERT。
func (s *DBSink) consumeLoop() {
	defer close(s.done)

	batch := make([]SinkEntry, 0, sinkBatchSize)
	ticker := time.NewTicker(sinkFlushDelay)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-s.buf:
			if !ok {
				if len(batch) > 0 {
					s.flush(batch)
				}
				return
			}
			batch = append(batch, entry)
			if len(batch) >= sinkBatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush 批量写入 PG。写入失败仅本地告警，不影响主流程。
func (s *DBSink) flush(batch []SinkEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, e := range batch {
		var extraJSON []byte
		if len(e.Extra) > 0 {
			extraJSON, _ = json.Marshal(e.Extra)
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO console_logs
				(ts, level, message, component, thread_id, event_type, tool_name, extra)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.Ts, e.Level, e.Message, e.Component, e.ThreadID, e.EventType, e.ToolName, extraJSON,
		)
		if err != nil {
			slog.Default().Warn("db_sink: flush failed", "error", err)
		}
	}
}

// applySinkAttr 将 slog.Attr 映射到 SinkEntry 的结构化字段。
func applySinkAttr(e *SinkEntry, a slog.Attr) {
	switch a.Key {
	case FieldComponent:
		e.Component = a.Value.String()
	case FieldThreadID:
		e.ThreadID = a.Value.String()
	case FieldEventType:
		e.EventType = a.Value.String()
	case FieldToolName:
		e.ToolName = a.Value.String()
	default:
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[a.Key] = a.Value.Any()
	}
}

// ========================================
// MultiHandler — 同时写多个 Handler
// ========================================

// MultiHandler 扇出日志到多个 slog.Handler。
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler 创建多路 Handler。
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled 只要有一个 Handler 接受该级别就返回 true。
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle 分发到所有 Handler。
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r)
		}
	}
	return nil
}

// WithAttrs 对所有 Handler 调用 WithAttrs。
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: handlers}
}

// WithGroup 对所有 Handler 调用 WithGroup。
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: handlers}
}

// ========================================
// AttachDBSink — pool ready 后动态挂载
// ========================================

var (
	dbSink   atomic.Pointer[DBSink]
	attachMu sync.Mutex
)

// AttachDBSink 在 pool 初始化后调用，将 DBSink 作为第二路 Handler 挂载。
// 调用前的日志只走 stderr; 调用后开始双写。
func AttachDBSink(pool *pgxpool.Pool) {
	attachMu.Lock()
	defer attachMu.Unlock()

	s := NewDBSink(pool, slog.LevelInfo)
	dbSink.Store(s)

	orig := getLogger().Handler()
	storeLogger(slog.New(NewMultiHandler(orig, s)))
}

// ShutdownDBSink 关闭 DBSink 并 flush 剩余日志。
func ShutdownDBSink() {
	if s := dbSink.Load(); s != nil {
		s.Shutdown()
	}
}
