// Package session manages a bounded pool of authenticated sessions against the
// remote API.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/logger"
)

// Authenticator produces the opaque credential set used by sessions
type Authenticator interface {
	Authenticate(ctx context.Context) (*types.Credentials, error)
	// Invalidate forgets any stored credentials
	Invalidate() error
}

// Logouter ends the remote side of an authenticated session
type Logouter interface {
	Logout(ctx context.Context, creds *types.Credentials, csrfToken string) error
}

// Config holds pool configuration
type Config struct {
	// MaxConnections bounds live sessions, 0 means unlimited
	MaxConnections int
	// CSRFCookie names the cookie whose value is posted on logout
	CSRFCookie string
}

// Stats is a snapshot of the pool
type Stats struct {
	Live      int
	Idle      int
	Waiting   int
	Created   int64
	Connected bool
}

// Pool hands out sessions, creating them on demand up to MaxConnections
type Pool struct {
	config Config
	auth   Authenticator
	logout Logouter
	log    logger.Logger

	// connectMu guards the live-count check together with session creation and re-authentication
	connectMu  sync.Mutex
	creds      *types.Credentials
	generation atomic.Uint64

	mu      sync.Mutex
	idle    []*Session
	waiters []chan *Session
	live    int
	created int64
	tracked map[string]*Session

	connected atomic.Bool
}

// NewPool creates a session pool
func NewPool(config Config, auth Authenticator, logout Logouter, log logger.Logger) *Pool {
	return &Pool{
		config:  config,
		auth:    auth,
		logout:  logout,
		log:     logger.OrGlobal(log).With(logger.String("component", "session_pool")),
		tracked: make(map[string]*Session),
	}
}

// Pop returns an idle session, creates one if the pool is below its bound or
// force is set, and otherwise blocks until a session is pushed back.
func (p *Pool) Pop(ctx context.Context, force bool) (*Session, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		if s := p.takeIdleLocked(); s != nil {
			p.mu.Unlock()
			return s, nil
		}
		p.mu.Unlock()

		p.connectMu.Lock()
		p.mu.Lock()
		if s := p.takeIdleLocked(); s != nil {
			p.mu.Unlock()
			p.connectMu.Unlock()
			return s, nil
		}
		if force || p.config.MaxConnections <= 0 || p.live < p.config.MaxConnections {
			p.live++
			p.mu.Unlock()
			s, err := p.createLocked(ctx)
			p.connectMu.Unlock()
			if err != nil {
				p.mu.Lock()
				p.live--
				p.wakeLocked(nil)
				p.mu.Unlock()
				return nil, err
			}
			return s, nil
		}
		ch := make(chan *Session, 1)
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()
		p.connectMu.Unlock()

		select {
		case s := <-ch:
			if s != nil {
				return s, nil
			}
			// a live slot was freed; try again
		case <-ctx.Done():
			p.mu.Lock()
			removed := p.removeWaiterLocked(ch)
			p.mu.Unlock()
			if !removed {
				if s := <-ch; s != nil {
					p.Push(s)
				} else {
					p.mu.Lock()
					p.wakeLocked(nil)
					p.mu.Unlock()
				}
			}
			return nil, ctx.Err()
		}
	}
}

// Push returns a session to the pool, handing it to the longest waiting Pop if any
func (p *Pool) Push(s *Session) {
	if s == nil {
		return
	}
	if s.isCleared() {
		p.Discard(s)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.discarded {
		return
	}
	if !p.wakeLocked(s) {
		p.idle = append(p.idle, s)
	}
}

// Discard drops a session and frees its live slot
func (p *Pool) Discard(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.discarded {
		return
	}
	s.discarded = true
	p.live--
	delete(p.tracked, s.id)
	p.wakeLocked(nil)
}

// Logout ends the remote session, forgets stored credentials and clears every
// tracked session so no further requests are served through them.
func (p *Pool) Logout(ctx context.Context) error {
	s, err := p.Pop(ctx, true)
	if err != nil {
		return err
	}

	err = s.Do(ctx, func(ctx context.Context, creds *types.Credentials) error {
		token, _ := creds.Get(p.config.CSRFCookie)
		if p.logout == nil {
			return nil
		}
		return p.logout.Logout(ctx, creds, token)
	})
	if err != nil {
		p.log.Warn("Remote logout failed", logger.Error(err))
	}

	if invErr := p.auth.Invalidate(); invErr != nil {
		err = errors.Join(err, invErr)
	}

	p.mu.Lock()
	for _, t := range p.tracked {
		t.clear()
	}
	for _, t := range p.idle {
		t.discarded = true
		p.live--
		delete(p.tracked, t.id)
	}
	p.idle = nil
	p.mu.Unlock()
	p.connected.Store(false)
	p.Discard(s)

	p.log.Info("Logged out")
	return err
}

// Connected reports whether the pool believes its credentials are valid
func (p *Pool) Connected() bool {
	return p.connected.Load()
}

// Stats returns a snapshot of the pool
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Live:      p.live,
		Idle:      len(p.idle),
		Waiting:   len(p.waiters),
		Created:   p.created,
		Connected: p.connected.Load(),
	}
}

func (p *Pool) takeIdleLocked() *Session {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	s := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return s
}

// wakeLocked hands s (or a retry signal when s is nil) to the oldest waiter
func (p *Pool) wakeLocked(s *Session) bool {
	if len(p.waiters) == 0 {
		return false
	}
	ch := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	ch <- s
	return true
}

func (p *Pool) removeWaiterLocked(ch chan *Session) bool {
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// createLocked performs the authentication handshake for a new session; connectMu must be held
func (p *Pool) createLocked(ctx context.Context) (*Session, error) {
	creds, err := p.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if p.creds != nil && !p.connected.Load() {
		// idle sessions still hold the rejected credentials
		p.generation.Add(1)
	}
	p.creds = creds
	p.connected.Store(true)

	s := &Session{
		id:         uuid.New().String(),
		pool:       p,
		creds:      creds,
		generation: p.generation.Load(),
	}

	p.mu.Lock()
	p.created++
	p.tracked[s.id] = s
	p.mu.Unlock()

	p.log.Debug("Session created", logger.String("session", s.id))
	return s, nil
}

// reconnect re-authenticates once after the pool was marked disconnected
func (p *Pool) reconnect(ctx context.Context, s *Session) error {
	p.connectMu.Lock()
	defer p.connectMu.Unlock()

	if !p.connected.Load() {
		p.log.Info("Re-authenticating")
		creds, err := p.authenticate(ctx)
		if err != nil {
			return err
		}
		p.creds = creds
		p.generation.Add(1)
		p.connected.Store(true)
	}
	if gen := p.generation.Load(); s.generation != gen {
		s.creds = p.creds
		s.generation = gen
	}
	return nil
}

func (p *Pool) authenticate(ctx context.Context) (*types.Credentials, error) {
	creds, err := p.auth.Authenticate(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthentication) {
			return nil, err
		}
		return nil, apperrors.AuthenticationError("authentication failed", err)
	}
	if creds == nil {
		return nil, apperrors.AuthenticationError("authentication returned no credentials", nil)
	}
	return creds, nil
}

func (p *Pool) markDisconnected() {
	if p.connected.CompareAndSwap(true, false) {
		p.log.Warn("Session unauthorized; re-authentication required")
	}
}
