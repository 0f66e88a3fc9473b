package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ConnectionManager manages the primary connection and optional read replicas
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // Atomic counter for round-robin selection
	mu       sync.RWMutex
	dialect  Dialect

	replicaErrs []error
}

// NewConnectionManager opens and pings the primary, then any replicas.
// Replicas that cannot be reached are skipped; reads fall back to the primary.
func NewConnectionManager(ctx context.Context, cfg Config) (*ConnectionManager, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}

	cm := &ConnectionManager{dialect: cfg.Driver}

	primary, err := openDB(ctx, cfg, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	cm.primary = primary

	for i, replicaURL := range cfg.ReplicaURLs {
		replicaMaxConns := cfg.MaxConns / 2
		if replicaMaxConns < 2 {
			replicaMaxConns = 2
		}
		replica, err := openDB(ctx, cfg, replicaURL, replicaMaxConns)
		if err != nil {
			cm.replicaErrs = append(cm.replicaErrs, fmt.Errorf("replica %d: %w", i, err))
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	return cm, nil
}

// NewSingleConnection wraps an already-open database with no replicas.
func NewSingleConnection(db *sql.DB, dialect Dialect) *ConnectionManager {
	return &ConnectionManager{primary: db, dialect: dialect}
}

func openDB(ctx context.Context, cfg Config, url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver.DriverName(), url)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DialectSQLite {
		// A single writer avoids SQLITE_BUSY and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(cfg.MinConns)
		db.SetConnMaxLifetime(cfg.MaxLifetime)
		db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return db, nil
}

// Dialect reports the SQL dialect of every connection.
func (cm *ConnectionManager) Dialect() Dialect {
	return cm.dialect
}

// Primary returns the primary database connection (for writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}

	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// ReplicaCount returns the number of healthy replicas at startup.
func (cm *ConnectionManager) ReplicaCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.replicas)
}

// ReplicaErrors returns why configured replicas were skipped.
func (cm *ConnectionManager) ReplicaErrors() []error {
	return cm.replicaErrs
}

// Close closes all connections
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	if cm.primary != nil {
		if err := cm.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("primary: %w", err))
		}
	}
	for i, replica := range cm.replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica %d: %w", i, err))
		}
	}
	cm.replicas = nil
	return errors.Join(errs...)
}
