// Package session manages the relay challenge/response login. A session is
// the signed challenge headers plus an expiry; it is reused until it expires
// or is invalidated.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/0gfoundation/0g-gasless/internal/relay"
	"github.com/0gfoundation/0g-gasless/internal/signer"
)

// DefaultTTL is how long signed challenge headers are reused.
const DefaultTTL = 4 * time.Hour

// ErrAuth is returned when a session cannot be established.
var ErrAuth = errors.New("authentication failed")

// Challenger issues sign-in messages; *relay.Client implements it.
type Challenger interface {
	Challenge(ctx context.Context, address string) (string, error)
}

// Session is an authenticated relay session for one address.
type Session struct {
	Address   string
	Headers   relay.Headers
	ExpiresAt time.Time
}

// Valid reports whether s may be used at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// Manager holds at most one session. Obtaining a session for a different
// address replaces the current one.
type Manager struct {
	challenger Challenger
	ttl        time.Duration
	now        func() time.Time
	log        *zap.Logger
	group      singleflight.Group

	mu      sync.Mutex
	current *Session
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func NewManager(c Challenger, opts ...Option) *Manager {
	m := &Manager{challenger: c, ttl: DefaultTTL, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Obtain returns session headers for key, reusing the held session while it
// is valid for the same address and otherwise signing a fresh challenge.
func (m *Manager) Obtain(ctx context.Context, key *signer.Key) (relay.Headers, error) {
	if key == nil {
		return relay.Headers{}, fmt.Errorf("%w: %w", ErrAuth, signer.ErrSigning)
	}
	address := key.Address().Hex()
	if s := m.lookup(address); s != nil {
		return s.Headers, nil
	}

	v, err, _ := m.group.Do(strings.ToLower(address), func() (any, error) {
		if s := m.lookup(address); s != nil {
			return s, nil
		}
		s, err := m.authenticate(ctx, key)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.current = s
		m.mu.Unlock()
		m.log.Info("relay session established",
			zap.String("address", address),
			zap.Time("expires_at", s.ExpiresAt))
		return s, nil
	})
	if err != nil {
		return relay.Headers{}, err
	}
	return v.(*Session).Headers, nil
}

func (m *Manager) authenticate(ctx context.Context, key *signer.Key) (*Session, error) {
	address := key.Address().Hex()
	msg, err := m.challenger.Challenge(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch challenge: %w", ErrAuth, err)
	}
	sig, err := key.SignPersonal([]byte(msg))
	if err != nil {
		return nil, fmt.Errorf("%w: sign challenge: %w", ErrAuth, err)
	}
	return &Session{
		Address: address,
		Headers: relay.Headers{
			Message:   msg,
			Signature: sig.Hex(),
			Address:   address,
		},
		ExpiresAt: m.now().Add(m.ttl),
	}, nil
}

func (m *Manager) lookup(address string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && strings.EqualFold(m.current.Address, address) && m.current.Valid(m.now()) {
		return m.current
	}
	return nil
}

// Invalidate drops the held session.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Current returns a copy of the held session, valid or not.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}
