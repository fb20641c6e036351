package player

import (
	"context"
	"sync"
)

// Registry maps guild IDs to their live session. At most one session exists
// per guild.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     SessionOptions
}

func NewRegistry(opts SessionOptions) *Registry {
	return &Registry{sessions: make(map[string]*Session), opts: opts}
}

func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// GetOrCreate returns the guild's session, starting one that connects to
// gc's voice channel if there is none. created reports which happened.
func (r *Registry) GetOrCreate(gc GuildContext) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[gc.GuildID()]; ok {
		return s, false
	}
	s = NewSession(gc, r.opts, r.release)
	r.sessions[gc.GuildID()] = s
	return s, true
}

// Remove stops the guild's session, if any.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown stops every session and waits for them to finish or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release drops s from the map unless a newer session has already taken its
// place.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.GuildID()]; ok && cur == s {
		delete(r.sessions, s.GuildID())
	}
}
