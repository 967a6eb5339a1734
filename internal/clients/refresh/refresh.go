// Package refresh exchanges a refresh token for a new token pair over HTTP.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/internal/lib/logger/sl"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath    = "/auth/refresh"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

var (
	// ErrRefreshFailed wraps every failure of RefreshAccessToken.
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrNoRefreshToken    = errors.New("no refresh token stored")
	ErrMalformedResponse = errors.New("malformed refresh response")
)

// TokenStore is the slice of the credential store the client needs.
type TokenStore interface {
	AccessToken(ctx context.Context) string
	RefreshToken(ctx context.Context) string
	SaveAccessToken(ctx context.Context, token string) error
	SaveRefreshToken(ctx context.Context, token string) error
	SaveExpiry(ctx context.Context, expiry time.Time) error
	ClearSessionOnly(ctx context.Context) error
}

type Client struct {
	log        *slog.Logger
	baseURL    string
	store      TokenStore
	httpClient *http.Client
	now        func() time.Time
	flight     singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(log *slog.Logger, baseURL string, timeout time.Duration, store TokenStore, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RefreshAccessToken swaps the stored refresh token for a new pair, persists
// it and returns the new access token. Concurrent callers share one exchange.
//
// The exchange is detached from the caller's cancellation and bounded by the
// client timeout. A caller that gives up gets its ctx error; the exchange
// still completes for the others.
//
// On failure the stored credentials are cleared (role and onboarding are kept)
// and the returned error wraps ErrRefreshFailed. There is no retry.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	const op = "refresh.RefreshAccessToken"

	ch := c.flight.DoChan("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.log.Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	const op = "refresh.RefreshAccessToken"

	requestID := uuid.New().String()
	log := c.log.With(
		slog.String("op", op),
		slog.String("request_id", requestID),
	)

	log.Info("refreshing access token")

	resp, err := c.exchange(ctx, requestID)
	if err != nil {
		log.Warn("token refresh failed, clearing credentials", sl.Err(err))

		if clearErr := c.store.ClearSessionOnly(ctx); clearErr != nil {
			log.Error("failed to clear credentials", sl.Err(clearErr))
		}

		return "", fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}

	if err := c.persist(ctx, resp); err != nil {
		log.Error("failed to persist refreshed tokens", sl.Err(err))

		if clearErr := c.store.ClearSessionOnly(ctx); clearErr != nil {
			log.Error("failed to clear credentials", sl.Err(clearErr))
		}

		return "", fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}

	log.Info("access token refreshed", slog.Int64("expires_in", resp.ExpiresIn))

	return resp.AccessToken, nil
}

func (c *Client) exchange(ctx context.Context, requestID string) (refreshResponse, error) {
	refreshToken := c.store.RefreshToken(ctx)
	if refreshToken == "" {
		return refreshResponse{}, ErrNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return refreshResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return refreshResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if access := c.store.AccessToken(ctx); access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return refreshResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return refreshResponse{}, fmt.Errorf("refresh: request failed status=%d body=%s", res.StatusCode, string(b))
	}

	var out refreshResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return refreshResponse{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if out.AccessToken == "" || out.ExpiresIn <= 0 {
		return refreshResponse{}, ErrMalformedResponse
	}

	return out, nil
}

func (c *Client) persist(ctx context.Context, resp refreshResponse) error {
	if err := c.store.SaveAccessToken(ctx, resp.AccessToken); err != nil {
		return err
	}

	// The backend may keep the refresh token unrotated.
	if resp.RefreshToken != "" {
		if err := c.store.SaveRefreshToken(ctx, resp.RefreshToken); err != nil {
			return err
		}
	}

	return c.store.SaveExpiry(ctx, c.now().Add(time.Duration(resp.ExpiresIn)*time.Second))
}
