// Package credentials persists the session fields in sealed key/value storage.
//
// Read paths never fail: any backend, decryption or parse problem is logged and
// reported as an absent field. Writes and clears return errors.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"courier/internal/domain/models"
	"courier/internal/lib/logger/sl"
	"courier/internal/storage"
)

const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyExpiry       = "expiry"
	KeyRole         = "role"
	KeyOnboarded    = "onboarded"
	KeyUserData     = "userData"
)

var (
	allKeys         = []string{KeyAccessToken, KeyRefreshToken, KeyExpiry, KeyRole, KeyOnboarded, KeyUserData}
	sessionKeys     = []string{KeyAccessToken, KeyRefreshToken, KeyExpiry, KeyUserData}
	accessTokenKeys = []string{KeyAccessToken, KeyExpiry}
)

type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type Sealer interface {
	Seal(plaintext, additional []byte) ([]byte, error)
	Open(sealed, additional []byte) ([]byte, error)
}

type Store struct {
	log     *slog.Logger
	backend Backend
	sealer  Sealer
	now     func() time.Time
}

func New(log *slog.Logger, backend Backend, sealer Sealer, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}

	return &Store{
		log:     log,
		backend: backend,
		sealer:  sealer,
		now:     now,
	}
}

func (s *Store) SaveAccessToken(ctx context.Context, token string) error {
	return s.put(ctx, KeyAccessToken, []byte(token))
}

func (s *Store) SaveRefreshToken(ctx context.Context, token string) error {
	return s.put(ctx, KeyRefreshToken, []byte(token))
}

// SaveExpiry stores the expiry as an ISO-8601 (RFC 3339) UTC string.
func (s *Store) SaveExpiry(ctx context.Context, expiry time.Time) error {
	return s.put(ctx, KeyExpiry, []byte(expiry.UTC().Format(time.RFC3339Nano)))
}

func (s *Store) SaveRole(ctx context.Context, role models.Role) error {
	return s.put(ctx, KeyRole, []byte(role))
}

func (s *Store) SaveOnboardingStatus(ctx context.Context, onboarded bool) error {
	return s.put(ctx, KeyOnboarded, []byte(strconv.FormatBool(onboarded)))
}

func (s *Store) SaveUserData(ctx context.Context, user json.RawMessage) error {
	return s.put(ctx, KeyUserData, user)
}

func (s *Store) AccessToken(ctx context.Context) string {
	return string(s.get(ctx, KeyAccessToken))
}

func (s *Store) RefreshToken(ctx context.Context) string {
	return string(s.get(ctx, KeyRefreshToken))
}

// Expiry returns the stored expiry, or the zero time if it is absent or malformed.
func (s *Store) Expiry(ctx context.Context) time.Time {
	raw := s.get(ctx, KeyExpiry)
	if raw == nil {
		return time.Time{}
	}

	expiry, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		s.log.Warn("malformed expiry", slog.String("op", "credentials.Expiry"), sl.Err(err))
		return time.Time{}
	}

	return expiry
}

func (s *Store) Role(ctx context.Context) models.Role {
	return models.Role(s.get(ctx, KeyRole))
}

func (s *Store) HasOnboarded(ctx context.Context) bool {
	raw := s.get(ctx, KeyOnboarded)
	if raw == nil {
		return false
	}

	onboarded, err := strconv.ParseBool(string(raw))
	if err != nil {
		s.log.Warn("malformed onboarding flag", slog.String("op", "credentials.HasOnboarded"), sl.Err(err))
		return false
	}

	return onboarded
}

func (s *Store) UserData(ctx context.Context) json.RawMessage {
	raw := s.get(ctx, KeyUserData)
	if raw == nil || !json.Valid(raw) {
		return nil
	}

	return raw
}

// IsAccessTokenExpired is true when the expiry is missing, malformed or not in the future.
func (s *Store) IsAccessTokenExpired(ctx context.Context) bool {
	expiry := s.Expiry(ctx)
	if expiry.IsZero() {
		return true
	}

	return !s.now().Before(expiry)
}

// Snapshot reads every field at once.
func (s *Store) Snapshot(ctx context.Context) models.Session {
	return models.Session{
		AccessToken:  s.AccessToken(ctx),
		RefreshToken: s.RefreshToken(ctx),
		Expiry:       s.Expiry(ctx),
		Role:         s.Role(ctx),
		Onboarded:    s.HasOnboarded(ctx),
		User:         s.UserData(ctx),
	}
}

// ClearAccessTokensOnly removes the access token and its expiry.
func (s *Store) ClearAccessTokensOnly(ctx context.Context) error {
	return s.delete(ctx, "credentials.ClearAccessTokensOnly", accessTokenKeys)
}

// ClearSessionOnly removes tokens, expiry and the cached user. Role and
// onboarding status are kept.
func (s *Store) ClearSessionOnly(ctx context.Context) error {
	return s.delete(ctx, "credentials.ClearSessionOnly", sessionKeys)
}

// ClearAll removes every field, role and onboarding status included.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.delete(ctx, "credentials.ClearAll", allKeys)
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	op := "credentials.Save." + key

	sealed, err := s.sealer.Seal(value, []byte(key))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.backend.Put(ctx, key, sealed); err != nil {
		s.log.Error("failed to save field", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) get(ctx context.Context, key string) []byte {
	op := "credentials.Get." + key

	sealed, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.log.Error("failed to read field", slog.String("op", op), sl.Err(err))
		}
		return nil
	}

	plain, err := s.sealer.Open(sealed, []byte(key))
	if err != nil {
		s.log.Error("failed to open field", slog.String("op", op), sl.Err(err))
		return nil
	}

	return plain
}

func (s *Store) delete(ctx context.Context, op string, keys []string) error {
	if err := s.backend.Delete(ctx, keys...); err != nil {
		s.log.Error("failed to clear fields", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Debug("fields cleared", slog.String("op", op), slog.Any("keys", keys))

	return nil
}
