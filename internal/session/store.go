package session

import (
	"context"
	"sync"
	"time"

	"civic-reporter/internal/logger"
	"civic-reporter/internal/metrics"

	"github.com/google/uuid"
)

// 文档注释：进程内会话表
// 背景：会话只在一次上报流程内有效，不做持久化；空闲超过 idle 的会话由 Sweep 清理。
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idle     time.Duration
}

func NewStore(idle time.Duration) *Store {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Store{sessions: make(map[string]*Session), idle: idle}
}

// Create：新建会话，ID 为随机 UUID
func (st *Store) Create(flow Flow) *Session {
	s := New(uuid.NewString(), flow)
	st.mu.Lock()
	st.sessions[s.ID] = s
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
	logger.L().Debug("session_create", "session", s.ID, "flow", string(flow))
	return s
}

// Get：取会话；过期视为不存在
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if time.Since(s.idleSince()) > st.idle {
		st.Delete(id)
		return nil, ErrNotFound
	}
	return s, nil
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Len：会话数
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep：清理空闲会话，返回清理数量
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	removed := 0
	for id, s := range st.sessions {
		if now.Sub(s.idleSince()) > st.idle {
			delete(st.sessions, id)
			removed++
		}
	}
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
	if removed > 0 {
		logger.L().Info("session_sweep", "removed", removed, "active", n)
	}
	return removed
}

// Run：周期性清理，直到 ctx 取消
func (st *Store) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			st.Sweep(now)
		}
	}
}
