package app

import (
	"fmt"
	"log/slog"

	"courier/config"
	"courier/internal/clients/connectivity"
	"courier/internal/clients/refresh"
	"courier/internal/navigation"
	"courier/internal/routegate"
	"courier/internal/services/cache"
	"courier/internal/services/session"
)

type App struct {
	StorageApp *StorageApp
	Cache      *cache.Cache
	Sessions   *session.Manager
	Gate       *routegate.Gate
	Navigator  *navigation.Logger

	prober *connectivity.GRPCProber
}

// New wires the session core on top of an opened storage app. The returned
// App owns the health connection; StorageApp is closed by its owner.
func New(log *slog.Logger, cfg *config.Config, storageApp *StorageApp) (*App, error) {
	const op = "app.New"

	store := storageApp.Credentials()
	sessionCache := cache.New()
	navigator := navigation.NewLogger(log)

	refresher := refresh.New(log, cfg.Backend.BaseURL, cfg.Backend.RefreshTimeout, store)

	a := &App{
		StorageApp: storageApp,
		Cache:      sessionCache,
		Navigator:  navigator,
	}

	var prober session.Prober = connectivity.Static(true)
	if cfg.Backend.HealthAddr != "" {
		var opts []connectivity.Option
		if !cfg.Backend.Insecure {
			opts = append(opts, connectivity.WithTLS())
		}

		p, err := connectivity.NewGRPCProber(log, cfg.Backend.HealthAddr, cfg.Backend.HealthTimeout, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.prober = p
		prober = p
	} else {
		log.Warn("no health endpoint configured, assuming the backend is reachable")
	}

	a.Sessions = session.New(log, store, sessionCache, refresher, prober, navigator, session.Config{
		ExtendDays:   cfg.Session.ExtendDays,
		SettleDelay:  cfg.Session.LogoutSettleDelay,
		ReleaseDelay: cfg.Session.LogoutReleaseDelay,
	})
	a.Gate = routegate.New(log, a.Sessions, navigator)

	return a, nil
}

func (a *App) Stop() error {
	if a.prober == nil {
		return nil
	}

	return a.prober.Close()
}
