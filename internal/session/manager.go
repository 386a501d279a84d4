package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/pipeline"
)

// Manager keeps one session per user, loading each lazily on first use.
type Manager struct {
	seq    *pipeline.Sequencer
	loader Loader
	writer Writer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions share seq, loader and writer.
func NewManager(seq *pipeline.Sequencer, loader Loader, writer Writer) *Manager {
	return &Manager{
		seq:      seq,
		loader:   loader,
		writer:   writer,
		sessions: make(map[string]*Session),
	}
}

// Get returns the user's session, creating and loading it if needed. A
// session whose load fails is not kept, so the next call retries.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		s = New(userID, m.seq, m.loader, m.writer)
		m.sessions[userID] = s
	}
	m.mu.Unlock()

	if err := s.Load(ctx); err != nil {
		m.mu.Lock()
		if m.sessions[userID] == s && s.State().RunID == "" {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Lookup returns the user's session without creating one.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Logout stops the user's run, clears the session and forgets it.
func (m *Manager) Logout(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Reset()
	zap.L().Info("session: logged out", zap.String("user", userID))
}

// Shutdown stops every run and waits for the runs to return or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
	done := make(chan struct{})
	go func() {
		for _, s := range all {
			s.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
