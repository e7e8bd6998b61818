package database

import (
	"fmt"

	"flightdeck/internal/config"
	"flightdeck/internal/deck"
)

// NewStoreFromConfig creates a store implementation based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, clock deck.Clock, idgen deck.IDGenerator) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite database")
		}
		return NewSQLiteStore(cfg.Path, clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", clock, idgen)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
