// Copyright 2024-2026 Aiku AI

package pairstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	_ "go.mau.fi/util/dbutil/litestream"
)

// Backend names accepted in Options.Type.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

const sqliteDriver = "sqlite3-fk-wal"

// Options selects and locates the storage engine of a store.
type Options struct {
	// Type is one of BackendSQLite, BackendPostgres or BackendBolt.
	Type string
	// Dir holds the SQLite and bbolt files.
	Dir string
	// PostgresURI points at the server. Its database path is replaced by
	// DatabaseName.
	PostgresURI string
	// FileName is the base name of the SQLite or bbolt file, without extension.
	FileName string
	// DatabaseName is the PostgreSQL database used by this store.
	DatabaseName string
}

// Open creates the store described by opts, provisioning storage as needed.
func Open(ctx context.Context, name string, opts Options, log zerolog.Logger) (Store, error) {
	switch opts.Type {
	case BackendSQLite, "sqlite3", "":
		dir, err := ensureDir(opts.Dir)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, name, SQLiteConfig(filepath.Join(dir, opts.FileName+".db")), log)
	case BackendPostgres:
		uri, err := PostgresDatabaseURI(opts.PostgresURI, opts.DatabaseName)
		if err != nil {
			return nil, err
		}
		if err = ensurePostgresDatabase(ctx, opts.PostgresURI, opts.DatabaseName, log); err != nil {
			return nil, err
		}
		return NewSQLStore(ctx, name, dbutil.Config{PoolConfig: dbutil.PoolConfig{
			Type:         "postgres",
			URI:          uri,
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		}}, log)
	case BackendBolt:
		dir, err := ensureDir(opts.Dir)
		if err != nil {
			return nil, err
		}
		return NewBoltStore(name, filepath.Join(dir, opts.FileName+".bolt"), log)
	default:
		return nil, fmt.Errorf("unknown database type %q", opts.Type)
	}
}

// SQLiteConfig returns the pool configuration of a SQLite file store.
func SQLiteConfig(path string) dbutil.Config {
	return dbutil.Config{PoolConfig: dbutil.PoolConfig{
		Type:         sqliteDriver,
		URI:          "file:" + path + "?_txlock=immediate",
		MaxOpenConns: 5,
		MaxIdleConns: 1,
	}}
}

func ensureDir(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %s: %w", dir, err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return dir, nil
}

// PostgresDatabaseURI returns serverURI with its database replaced by dbName.
func PostgresDatabaseURI(serverURI, dbName string) (string, error) {
	parsed, err := url.Parse(serverURI)
	if err != nil {
		return "", fmt.Errorf("invalid postgres URI: %w", err)
	} else if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return "", fmt.Errorf("invalid postgres URI scheme %q", parsed.Scheme)
	}
	parsed.Path = "/" + dbName
	parsed.RawPath = ""
	return parsed.String(), nil
}

// ensurePostgresDatabase creates dbName through the maintenance database if
// it does not exist yet.
func ensurePostgresDatabase(ctx context.Context, serverURI, dbName string, log zerolog.Logger) error {
	adminURI, err := PostgresDatabaseURI(serverURI, "postgres")
	if err != nil {
		return err
	}
	admin, err := dbutil.NewWithDialect(adminURI, "postgres")
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer admin.Close()

	var exists int
	err = admin.QueryRow(ctx, "SELECT 1 FROM pg_database WHERE datname=$1", dbName).Scan(&exists)
	if err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for database %s: %w", dbName, err)
	}
	if _, err = admin.Exec(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", dbName, err)
	}
	log.Info().Str("database", dbName).Msg("Created database")
	return nil
}
