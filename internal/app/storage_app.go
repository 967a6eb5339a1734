package app

import (
	"fmt"
	"log/slog"

	"courier/internal/lib/crypto"
	"courier/internal/services/credentials"
	"courier/internal/storage/sqlite"
)

type StorageApp struct {
	storage     *sqlite.Storage
	credentials *credentials.Store
}

func NewStorageApp(log *slog.Logger, storagePath, secret string) (*StorageApp, error) {
	const op = "app.NewStorageApp"

	sealer, err := crypto.NewSealer([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	storage, err := sqlite.New(storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &StorageApp{
		storage:     storage,
		credentials: credentials.New(log, storage, sealer, nil),
	}, nil
}

func (s *StorageApp) Stop() error {
	return s.storage.Close()
}

func (s *StorageApp) Credentials() *credentials.Store {
	return s.credentials
}
