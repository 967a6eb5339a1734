package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"courier/internal/domain/models"
	"courier/internal/lib/jwt"
	"courier/internal/lib/logger/sl"
	"courier/internal/services/cache"

	"golang.org/x/sync/errgroup"
)

const DefaultExtendDays = 180

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrLogoutInProgress = errors.New("logout already in progress")
	errResolutionPanic  = errors.New("route resolution panicked")
)

// Manager owns the session lifecycle: route resolution, transparent refresh,
// logout and the only sanctioned write paths for credential fields.
// Build one per process and share it.
type Manager struct {
	log       *slog.Logger
	store     CredentialStore
	cache     SessionCache
	refresher Refresher
	prober    Prober
	navigator Navigator
	purgers   []Purger
	cfg       Config
	now       func() time.Time

	loggingOut atomic.Bool
}

type Config struct {
	// ExtendDays is used by ExtendSession when no positive value is passed.
	ExtendDays int
	// SettleDelay lets subscribers observe the cleared session before navigation.
	SettleDelay time.Duration
	// ReleaseDelay keeps the logout guard up while the navigation transition runs.
	ReleaseDelay time.Duration
}

type CredentialStore interface {
	SaveAccessToken(ctx context.Context, token string) error
	SaveRefreshToken(ctx context.Context, token string) error
	SaveExpiry(ctx context.Context, expiry time.Time) error
	SaveRole(ctx context.Context, role models.Role) error
	SaveOnboardingStatus(ctx context.Context, onboarded bool) error
	SaveUserData(ctx context.Context, user json.RawMessage) error
	AccessToken(ctx context.Context) string
	IsAccessTokenExpired(ctx context.Context) bool
	Snapshot(ctx context.Context) models.Session
	ClearAccessTokensOnly(ctx context.Context) error
	ClearSessionOnly(ctx context.Context) error
	ClearAll(ctx context.Context) error
}

type SessionCache interface {
	Session() models.Session
	SetToken(token string)
	SetRefToken(token string)
	SetExpiry(expiry time.Time)
	SetRole(role models.Role)
	SetOnboarded(onboarded bool)
	SetUser(user json.RawMessage)
	ClearSession()
	Generation() uint64
	LoadSession(ctx context.Context, src cache.Source) models.Session
}

type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
}

type Prober interface {
	IsConnected(ctx context.Context) bool
}

type Navigator interface {
	Replace(route models.Route)
}

// Purger drops data derived from the session, e.g. cached order history.
type Purger interface {
	Purge(ctx context.Context) error
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithPurgers(purgers ...Purger) Option {
	return func(m *Manager) { m.purgers = append(m.purgers, purgers...) }
}

func New(
	log *slog.Logger,
	store CredentialStore,
	cache SessionCache,
	refresher Refresher,
	prober Prober,
	navigator Navigator,
	cfg Config,
	opts ...Option,
) *Manager {
	if cfg.ExtendDays <= 0 {
		cfg.ExtendDays = DefaultExtendDays
	}

	m := &Manager{
		log:       log,
		store:     store,
		cache:     cache,
		refresher: refresher,
		prober:    prober,
		navigator: navigator,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ResolveRoute decides which screen the app should show. models.RouteNone
// means the caller stays where it is. It always returns a decision.
func (m *Manager) ResolveRoute(ctx context.Context) models.Route {
	const op = "session.ResolveRoute"

	log := m.log.With(slog.String("op", op))

	if !m.prober.IsConnected(ctx) {
		log.Warn("no network")
		return models.RouteNetworkError
	}

	route, err := m.resolve(ctx)
	if err != nil {
		log.Error("failed to resolve route", sl.Err(err))

		if !m.prober.IsConnected(ctx) {
			return models.RouteNetworkError
		}
		return models.RouteError
	}

	log.Debug("route resolved", slog.String("route", route.String()))

	return route
}

func (m *Manager) resolve(ctx context.Context) (route models.Route, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errResolutionPanic, p)
		}
	}()

	sess := m.cache.LoadSession(ctx, m.store)
	if err := ctx.Err(); err != nil {
		return models.RouteNone, err
	}

	expired := m.store.IsAccessTokenExpired(ctx)
	hasToken := sess.AccessToken != ""

	switch {
	case hasToken && !expired && sess.Role != "":
		return models.DashboardRoute(sess.Role), nil
	case (!hasToken || expired) && sess.Onboarded:
		return models.RouteLogin, nil
	case !sess.Onboarded:
		return models.RouteOnboarding, nil
	}

	return models.RouteNone, nil
}

// Check resolves the route and navigates to it.
func (m *Manager) Check(ctx context.Context) models.Route {
	route := m.ResolveRoute(ctx)
	if route != models.RouteNone {
		m.navigator.Replace(route)
	}

	return route
}

// CurrentSession returns the session, refreshing an expired access token on
// the way. A failed refresh demotes to "known but logged out": tokens and user
// are gone, role and onboarding status stay. During logout it returns an
// empty session.
func (m *Manager) CurrentSession(ctx context.Context) models.Session {
	const op = "session.CurrentSession"

	if m.loggingOut.Load() {
		return models.Session{}
	}

	sess := m.cache.Session()
	if sess.User != nil && sess.AccessToken != "" && sess.Role != "" && m.valid(sess.Expiry) {
		return sess
	}

	log := m.log.With(slog.String("op", op))

	// A logout clears the cache and bumps its generation; anything read
	// across that point belongs to the old session.
	gen := m.cache.Generation()
	torn := func() bool {
		return m.loggingOut.Load() || m.cache.Generation() != gen
	}

	sess = m.cache.LoadSession(ctx, m.store)
	if torn() {
		return models.Session{}
	}
	if !m.store.IsAccessTokenExpired(ctx) {
		return sess
	}
	if sess.AccessToken == "" && sess.RefreshToken == "" {
		// never logged in, or already demoted
		return sess
	}

	log.Info("access token expired, refreshing")

	if _, err := m.refresher.RefreshAccessToken(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("refresh abandoned by caller", sl.Err(err))
			return sess
		}

		log.Warn("refresh failed, keeping identity only", sl.Err(err))

		if err := m.store.ClearSessionOnly(ctx); err != nil {
			log.Error("failed to clear session", sl.Err(err))
		}
	}

	if torn() {
		// the refresh may have persisted tokens after the logout wiped them
		if err := m.store.ClearSessionOnly(ctx); err != nil {
			log.Error("failed to clear session", sl.Err(err))
		}
		return models.Session{}
	}

	sess = m.cache.LoadSession(ctx, m.store)
	if torn() {
		return models.Session{}
	}

	return sess
}

// ExtendSession pushes the expiry of a valid access token to now + days.
// days <= 0 uses the configured default.
func (m *Manager) ExtendSession(ctx context.Context, days int) bool {
	const op = "session.ExtendSession"

	if days <= 0 {
		days = m.cfg.ExtendDays
	}

	if m.store.AccessToken(ctx) == "" || m.store.IsAccessTokenExpired(ctx) {
		return false
	}

	expiry := m.now().AddDate(0, 0, days)
	if err := m.store.SaveExpiry(ctx, expiry); err != nil {
		m.log.Error("failed to extend session", slog.String("op", op), sl.Err(err))
		return false
	}
	m.cache.SetExpiry(expiry)

	m.log.Info("session extended", slog.String("op", op), slog.Int("days", days))

	return true
}

func (m *Manager) UpdateUser(ctx context.Context, user any) error {
	const op = "session.UpdateUser"

	if user == nil {
		return fmt.Errorf("%s: %w: user is required", op, ErrInvalidArgument)
	}

	raw, err := json.Marshal(user)
	if err != nil || string(raw) == "null" {
		return fmt.Errorf("%s: %w: user is not a JSON value", op, ErrInvalidArgument)
	}

	if err := m.store.SaveUserData(ctx, raw); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.cache.SetUser(raw)

	return nil
}

// UpdateToken stores a new access token. A positive expiresIn sets the expiry
// to now + expiresIn; otherwise the exp claim is used when the token is a JWT,
// and the stored expiry is left alone when it is not.
func (m *Manager) UpdateToken(ctx context.Context, token string, expiresIn time.Duration) error {
	const op = "session.UpdateToken"

	if token == "" {
		return fmt.Errorf("%s: %w: token is required", op, ErrInvalidArgument)
	}
	if expiresIn < 0 {
		return fmt.Errorf("%s: %w: negative expiresIn", op, ErrInvalidArgument)
	}

	var expiry time.Time
	if expiresIn > 0 {
		expiry = m.now().Add(expiresIn)
	} else if exp, err := jwt.ExpiresAt(token); err == nil {
		expiry = exp
	}

	if err := m.store.SaveAccessToken(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !expiry.IsZero() {
		if err := m.store.SaveExpiry(ctx, expiry); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	m.cache.SetToken(token)
	if !expiry.IsZero() {
		m.cache.SetExpiry(expiry)
	}

	return nil
}

func (m *Manager) UpdateRefreshToken(ctx context.Context, token string) error {
	const op = "session.UpdateRefreshToken"

	if token == "" {
		return fmt.Errorf("%s: %w: refresh token is required", op, ErrInvalidArgument)
	}

	if err := m.store.SaveRefreshToken(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.cache.SetRefToken(token)

	return nil
}

func (m *Manager) UpdateRole(ctx context.Context, role models.Role) error {
	const op = "session.UpdateRole"

	if !role.Valid() {
		return fmt.Errorf("%s: %w: unknown role %q", op, ErrInvalidArgument, role)
	}

	if err := m.store.SaveRole(ctx, role); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.cache.SetRole(role)

	return nil
}

func (m *Manager) UpdateOnboardingStatus(ctx context.Context, onboarded bool) error {
	const op = "session.UpdateOnboardingStatus"

	if err := m.store.SaveOnboardingStatus(ctx, onboarded); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.cache.SetOnboarded(onboarded)

	return nil
}

// ExpireSessionOnly drops the access token and its expiry. Everything else,
// including the refresh token, stays.
func (m *Manager) ExpireSessionOnly(ctx context.Context) error {
	const op = "session.ExpireSessionOnly"

	if err := m.store.ClearAccessTokensOnly(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.cache.SetToken("")
	m.cache.SetExpiry(time.Time{})

	m.log.Info("access token expired on request", slog.String("op", op))

	return nil
}

// LoggingOut reports whether a logout teardown is running.
func (m *Manager) LoggingOut() bool {
	return m.loggingOut.Load()
}

// Logout wipes the session and navigates to login. Only one teardown runs at
// a time; a concurrent call returns ErrLogoutInProgress without side effects.
// Navigation happens even if the teardown fails.
func (m *Manager) Logout(ctx context.Context) error {
	const op = "session.Logout"

	log := m.log.With(slog.String("op", op))

	if !m.loggingOut.CompareAndSwap(false, true) {
		log.Warn("logout already in progress")
		return ErrLogoutInProgress
	}

	log.Info("logging out")

	m.teardown(ctx, log)
	m.navigator.Replace(models.RouteLogin)

	time.AfterFunc(m.cfg.ReleaseDelay, func() {
		m.loggingOut.Store(false)
	})

	log.Info("logged out")

	return nil
}

func (m *Manager) teardown(ctx context.Context, log *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("logout teardown panicked", slog.Any("panic", p))
		}
	}()

	m.cache.ClearSession()

	// No shared context: one failing clear must not cancel the others.
	var g errgroup.Group
	g.Go(func() error {
		return m.store.ClearAll(ctx)
	})
	for _, p := range m.purgers {
		p := p
		g.Go(func() error {
			return p.Purge(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("failed to clear persisted session", sl.Err(err))
	}

	// Again, now that storage is empty: drops anything a reader reloaded
	// between the first clear and the storage wipe.
	m.cache.ClearSession()

	if m.cfg.SettleDelay > 0 {
		t := time.NewTimer(m.cfg.SettleDelay)
		defer t.Stop()

		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}

func (m *Manager) valid(expiry time.Time) bool {
	return !expiry.IsZero() && m.now().Before(expiry)
}
