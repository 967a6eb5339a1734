// Package navigation provides a Navigator for headless runs: it records the
// current route and logs every transition.
package navigation

import (
	"log/slog"
	"sync"

	"courier/internal/domain/models"
)

type Logger struct {
	log *slog.Logger

	mu      sync.Mutex
	current models.Route
	history []models.Route
}

func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log, current: models.RouteRoot}
}

func (l *Logger) Replace(route models.Route) {
	l.mu.Lock()
	from := l.current
	l.current = route
	l.history = append(l.history, route)
	l.mu.Unlock()

	l.log.Info("navigate",
		slog.String("from", from.String()),
		slog.String("to", route.String()),
	)
}

func (l *Logger) Current() models.Route {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.current
}

// History returns every route replaced so far, oldest first.
func (l *Logger) History() []models.Route {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]models.Route(nil), l.history...)
}
