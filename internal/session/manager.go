// Package session owns the token pair: it authorizes outgoing requests and
// reacts to authorization failures for every component.
package session

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/models"
)

// ErrNoSession is returned by operations that need a stored session.
var ErrNoSession = errors.New("not logged in")

// Authenticator is the subset of api.Client used for account calls.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (models.TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (models.RefreshResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error)
}

// Manager is the single owner of the session. Pass it explicitly to whatever
// needs authorization; it implements api.Authorizer.
type Manager struct {
	mu     sync.RWMutex
	pair   models.TokenPair
	store  TokenStore
	auth   Authenticator
	bus    *events.EventBus
	logger *logging.Logger

	onUnauthorized func()
}

var _ api.Authorizer = (*Manager)(nil)

// Options configures a Manager. Bus and Logger are optional.
type Options struct {
	Store  TokenStore
	Auth   Authenticator
	Bus    *events.EventBus
	Logger *logging.Logger
}

// NewManager loads any persisted session from the store.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	m := &Manager{
		store:  opts.Store,
		auth:   opts.Auth,
		bus:    opts.Bus,
		logger: opts.Logger,
	}

	pair, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if pair.Valid() {
		m.pair = pair
	}
	return m, nil
}

// OnUnauthorized subscribes the navigation callback run after any 401. There is
// exactly one subscriber; a later call replaces the earlier one.
func (m *Manager) OnUnauthorized(fn func()) {
	m.mu.Lock()
	m.onUnauthorized = fn
	m.mu.Unlock()
}

// Tokens returns the current pair (zero value when logged out).
func (m *Manager) Tokens() models.TokenPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair
}

// Authenticated reports whether a session is present.
func (m *Manager) Authenticated() bool {
	return m.Tokens().Valid()
}

// Login authenticates and replaces the stored session on success. On failure
// the previous state is left untouched and nothing is stored.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	if m.auth == nil {
		return fmt.Errorf("session manager has no authenticator")
	}
	pair, err := m.auth.Login(ctx, username, password)
	if err != nil {
		m.logger.Debug().Err(err).Str("username", username).Msg("login failed")
		return err
	}

	if err := m.replace(ctx, pair); err != nil {
		return err
	}
	m.logger.Info().Str("username", username).Msg("logged in")
	m.bus.PublishSession(events.EventSessionAuthenticated, username, "")
	return nil
}

// replace persists pair and then swaps it in memory.
func (m *Manager) replace(ctx context.Context, pair models.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, pair); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	m.pair = pair
	return nil
}

// clear drops both tokens from memory and the store. Store errors are logged,
// never returned.
func (m *Manager) clear(ctx context.Context) {
	m.mu.Lock()
	m.pair = models.TokenPair{}
	err := m.store.Clear(ctx)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear stored session")
	}
}

// Logout clears both tokens. It is idempotent and always succeeds.
func (m *Manager) Logout(ctx context.Context) {
	m.clear(ctx)
	m.bus.PublishSession(events.EventSessionCleared, "", "logout")
}

// Attach adds the bearer credential to req when a session exists. The access
// token is read at call time, so the latest login always wins.
func (m *Manager) Attach(req *nethttp.Request) {
	m.mu.RLock()
	access := m.pair.Access
	m.mu.RUnlock()
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
}

// HandleUnauthorized is invoked by api.Client for every 401 on an authenticated
// request, whichever component issued it. It clears the session and runs the
// subscribed navigation callback.
func (m *Manager) HandleUnauthorized(resp *nethttp.Response) {
	reason := "authorization rejected"
	if resp != nil && resp.Request != nil {
		reason = fmt.Sprintf("401 from %s %s", resp.Request.Method, resp.Request.URL.Path)
	}

	ctx := context.Background()
	if resp != nil && resp.Request != nil {
		// The originating context may already be cancelled; clearing must still happen.
		ctx = context.WithoutCancel(resp.Request.Context())
	}
	m.clear(ctx)

	m.logger.Warn().Str("reason", reason).Msg("session expired")
	m.bus.PublishSession(events.EventSessionExpired, "", reason)

	m.mu.RLock()
	fn := m.onUnauthorized
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Refresh trades the stored refresh token for a new access token. A rejected
// refresh token ends the session.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.auth == nil {
		return fmt.Errorf("session manager has no authenticator")
	}
	current := m.Tokens()
	if !current.Valid() {
		return ErrNoSession
	}

	out, err := m.auth.RefreshToken(ctx, current.Refresh)
	if err != nil {
		if api.IsAuth(err) {
			m.clear(ctx)
			m.bus.PublishSession(events.EventSessionExpired, "", "refresh token rejected")
		}
		return err
	}

	next := models.TokenPair{Access: out.Access, Refresh: current.Refresh}
	if out.Refresh != "" {
		next.Refresh = out.Refresh
	}
	if err := m.replace(ctx, next); err != nil {
		return err
	}
	m.bus.PublishSession(events.EventSessionAuthenticated, "", "refreshed")
	return nil
}

// Register creates an account. It does not log in.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*models.RegisterResponse, error) {
	if m.auth == nil {
		return nil, fmt.Errorf("session manager has no authenticator")
	}
	return m.auth.Register(ctx, models.RegisterRequest{Username: username, Email: email, Password: password})
}
