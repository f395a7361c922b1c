package session

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

// RequestFunc issues requests with the session credentials
type RequestFunc func(ctx context.Context, creds *types.Credentials) error

// Session is an authenticated handle. At most one request runs through it at a time.
type Session struct {
	id   string
	pool *Pool

	// mu serialises requests; it also guards creds and generation
	mu         sync.Mutex
	creds      *types.Credentials
	generation uint64

	cleared atomic.Bool

	// discarded is guarded by pool.mu
	discarded bool
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Do runs fn with the session credentials while holding the session's request
// lock. A request rejected as unauthorized marks the pool disconnected, so the
// next use re-authenticates, and comes back as a retryable SessionExpired
// connection error. Handshake failures stay AuthenticationError.
func (s *Session) Do(ctx context.Context, fn RequestFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isCleared() {
		return apperrors.AuthenticationError("session has been logged out", nil)
	}
	if !s.pool.Connected() || s.generation != s.pool.generation.Load() {
		if err := s.pool.reconnect(ctx, s); err != nil {
			return err
		}
	}

	err := fn(ctx, s.creds)
	if apperrors.Is(err, apperrors.ErrAuthentication) {
		s.pool.markDisconnected()
		return apperrors.SessionExpired(err)
	}
	return err
}

func (s *Session) clear() {
	s.cleared.Store(true)
}

func (s *Session) isCleared() bool {
	return s.cleared.Load()
}
