package state

import (
	"fmt"
)

// Backend names accepted by OpenStore.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// OpenStore opens and migrates the named backend. path applies to SQLite
// (empty means DefaultPath), dsn to Postgres.
func OpenStore(backend, path, dsn string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		if path == "" {
			path = DefaultPath()
		}
		db, err := OpenAndMigrate(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend needs a dsn")
		}
		s, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
