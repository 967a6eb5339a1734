// Package routegate guards protected screens: it lets a navigation through
// or redirects it based on the current session.
package routegate

import (
	"context"
	"log/slog"

	"courier/internal/domain/models"
	"courier/internal/services/session"
)

type SessionSource interface {
	CurrentSession(ctx context.Context) models.Session
}

type Navigator interface {
	Replace(route models.Route)
}

type Decision struct {
	Allowed  bool
	Redirect models.Route
}

type Gate struct {
	log       *slog.Logger
	sessions  SessionSource
	navigator Navigator
}

func New(log *slog.Logger, sessions SessionSource, navigator Navigator) *Gate {
	return &Gate{
		log:       log,
		sessions:  sessions,
		navigator: navigator,
	}
}

// Guard decides whether pathname may be shown and navigates away when it may
// not.
func (g *Gate) Guard(ctx context.Context, pathname string) Decision {
	const op = "routegate.Guard"

	log := g.log.With(
		slog.String("op", op),
		slog.String("pathname", pathname),
	)

	d := g.decide(ctx, pathname)
	if d.Allowed {
		return d
	}

	log.Info("redirecting", slog.String("to", d.Redirect.String()))
	g.navigator.Replace(d.Redirect)

	return d
}

func (g *Gate) decide(ctx context.Context, pathname string) Decision {
	sess := g.sessions.CurrentSession(ctx)

	var target models.Route
	switch {
	case !sess.LoggedIn() && sess.Onboarded:
		target = models.RouteLogin
	case !sess.LoggedIn():
		target = models.RouteOnboarding
	case session.IsAuthorizedRoute(sess.Role, pathname):
		return Decision{Allowed: true}
	case sess.Role.Valid():
		target = models.DashboardRoute(sess.Role)
	default:
		target = models.RouteLogin
	}

	// already there
	if target.String() == pathname {
		return Decision{Allowed: true}
	}

	return Decision{Redirect: target}
}
