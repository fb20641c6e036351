package player

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

type PlayOptions struct {
	RequestedBy    string
	RequestChannel string
	// MaxCandidates overrides the resolver default when > 0.
	MaxCandidates int
	Progress      ProgressFunc
}

type PlayResult struct {
	Track Track
	// Position is the 0-based queue position; 0 means it plays next.
	Position       int
	SessionCreated bool
}

// Service is the command surface shared by every frontend.
type Service struct {
	resolver *Resolver
	registry *Registry
	log      *slog.Logger
}

func NewService(resolver *Resolver, registry *Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, registry: registry, log: logger}
}

func (svc *Service) Registry() *Registry { return svc.registry }

// Resolve looks a query up without touching any session, for saving tracks
// to play later.
func (svc *Service) Resolve(ctx context.Context, query string, maxCandidates int) (Track, error) {
	return svc.resolver.Resolve(ctx, query, maxCandidates)
}

// Play resolves query, makes sure the guild has a connected session and
// queues the result. Nothing is connected or queued when resolution fails.
func (svc *Service) Play(ctx context.Context, gc GuildContext, query string, opts PlayOptions) (PlayResult, error) {
	if strings.TrimSpace(query) == "" {
		return PlayResult{}, ErrEmptyQuery
	}
	if gc.VoiceChannelID() == "" {
		return PlayResult{}, ErrNoVoiceChannel
	}

	t, err := svc.resolver.ResolveWithProgress(ctx, query, opts.MaxCandidates, opts.Progress)
	if err != nil {
		svc.log.Info("resolve failed", "guildID", gc.GuildID(), "query", query, "err", err)
		return PlayResult{}, err
	}
	t = t.WithRequest(opts.RequestedBy, opts.RequestChannel)

	// A session can end on its own between lookup and enqueue (idle
	// timeout); one fresh attempt covers that. An explicit stop sticks.
	retry := func(s *Session, err error, attempt int) bool {
		return attempt == 0 && errors.Is(err, ErrSessionClosed) && !s.Stopped()
	}
	for attempt := 0; ; attempt++ {
		s, created := svc.registry.GetOrCreate(gc)
		if err := s.WaitReady(ctx); err != nil {
			if retry(s, err, attempt) {
				continue
			}
			// a failed connect has already torn the session down
			return PlayResult{}, err
		}
		pos, err := s.Enqueue(t)
		if retry(s, err, attempt) {
			continue
		}
		if err != nil {
			return PlayResult{}, err
		}
		svc.log.Info("queued", "guildID", gc.GuildID(), "title", t.Title, "position", pos, "session", s.ID())
		return PlayResult{Track: t, Position: pos, SessionCreated: created}, nil
	}
}

func (svc *Service) session(guildID string) (*Session, error) {
	s, ok := svc.registry.Get(guildID)
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

func (svc *Service) Pause(guildID string) error {
	s, err := svc.session(guildID)
	if err != nil {
		return err
	}
	return s.Pause()
}

func (svc *Service) Resume(guildID string) error {
	s, err := svc.session(guildID)
	if err != nil {
		return err
	}
	return s.Resume()
}

func (svc *Service) Skip(guildID string) error {
	s, err := svc.session(guildID)
	if err != nil {
		return err
	}
	return s.Skip()
}

// Stop ends the guild's session. It fails only when there is nothing to stop.
func (svc *Service) Stop(guildID string) error {
	if _, err := svc.session(guildID); err != nil {
		return err
	}
	svc.registry.Remove(guildID)
	return nil
}

func (svc *Service) Queue(guildID string) (QueueSnapshot, error) {
	s, err := svc.session(guildID)
	if err != nil {
		return QueueSnapshot{GuildID: guildID, Status: StatusIdle}, err
	}
	snap, err := s.Snapshot()
	if errors.Is(err, ErrSessionClosed) {
		return QueueSnapshot{GuildID: guildID, Status: StatusIdle}, ErrNoSession
	}
	return snap, err
}

// Vacated forwards a listener-count change from the platform.
func (svc *Service) Vacated(guildID string, empty bool) {
	if s, ok := svc.registry.Get(guildID); ok {
		s.SetVacated(empty)
	}
}
