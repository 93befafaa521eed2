package memory

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by NewStore.
const (
	BackendAuto     = "auto"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// FactoryConfig selects and configures a Store backend.
type FactoryConfig struct {
	Backend         string
	DatabaseURL     string
	SQLitePath      string
	PreferenceCache bool
}

// ResolveBackend maps "auto" to postgres when a database URL is configured
// and to sqlite otherwise.
func ResolveBackend(cfg FactoryConfig) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendAuto:
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			return BackendPostgres, nil
		}
		return BackendSQLite, nil
	case BackendSQLite, BackendPostgres, BackendMemory:
		return backend, nil
	default:
		return "", fmt.Errorf("unsupported memory backend %q", cfg.Backend)
	}
}

// NewStore creates the configured backend. The preference cache only wraps
// single-process backends: replicas sharing postgres would not see each
// other's invalidations.
func NewStore(ctx context.Context, cfg FactoryConfig, opts ...Option) (Store, error) {
	backend, err := ResolveBackend(cfg)
	if err != nil {
		return nil, err
	}

	var store Store
	switch backend {
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres memory backend requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL, opts...)
	case BackendMemory:
		store = NewInMemoryStore(opts...)
	default:
		store, err = NewSQLiteStore(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
	}

	if !cfg.PreferenceCache {
		return store, nil
	}
	cached, err := NewCachedStore(store, 0)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}
