// Copyright 2024-2026 Aiku AI

package pairstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/spacebar-bridge/pkg/pairstore/upgrades"
	"github.com/aiku/spacebar-bridge/pkg/snowflake"
)

const owner = "spacebar-bridge"

const (
	registerPairQuery = `
		INSERT INTO channel_pair (pair_name, source_channel_id, target_channel_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (pair_name) DO NOTHING
	`
	putPairQuery = `
		INSERT INTO message_pair (pair_name, source_id, target_id)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT)
		WHERE EXISTS (SELECT 1 FROM channel_pair WHERE pair_name=$1)
		ON CONFLICT (pair_name, source_id) DO UPDATE SET target_id=excluded.target_id
	`
	getTargetQuery     = `SELECT target_id FROM message_pair WHERE pair_name=$1 AND source_id=$2`
	getSourceQuery     = `SELECT source_id FROM message_pair WHERE pair_name=$1 AND target_id=$2 LIMIT 1`
	deletePairQuery    = `DELETE FROM message_pair WHERE pair_name=$1 AND source_id=$2`
	listPartitionQuery = `SELECT pair_name FROM channel_pair ORDER BY pair_name`
	listSourcesQuery   = `SELECT source_id FROM message_pair WHERE pair_name=$1`
)

// SQLStore is a Store on SQLite or PostgreSQL. Routing goes through db and
// sweeps through a second pool, so a long scan never queues behind a send.
type SQLStore struct {
	name  string
	db    *dbutil.Database
	sweep *dbutil.Database
	log   zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens two pools on cfg and brings the schema up to date.
func NewSQLStore(ctx context.Context, name string, cfg dbutil.Config, log zerolog.Logger) (*SQLStore, error) {
	log = log.With().Str("component", "pairstore").Str("store", name).Logger()
	db, err := dbutil.NewFromConfig(owner, cfg, dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	db.UpgradeTable = upgrades.Table
	if err = db.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to upgrade %s database: %w", name, err)
	}

	sweepCfg := cfg
	sweepCfg.MaxOpenConns = 1
	sweepCfg.MaxIdleConns = 1
	sweep, err := dbutil.NewFromConfig(owner, sweepCfg, dbutil.ZeroLogger(log.With().Str("db_section", "sweep").Logger()))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open %s sweep pool: %w", name, err)
	}

	log.Info().Str("dialect", db.Dialect.String()).Msg("Pair store initialized")
	return &SQLStore{name: name, db: db, sweep: sweep, log: log}, nil
}

func (s *SQLStore) RegisterPair(ctx context.Context, pair ChannelPair) (Partition, error) {
	partition := pair.Partition()
	_, err := s.db.Exec(ctx, registerPairQuery, string(partition), pair.SourceChannelID, pair.TargetChannelID)
	if err != nil {
		return "", fmt.Errorf("failed to register %s: %w", partition, err)
	}
	return partition, nil
}

func (s *SQLStore) Put(ctx context.Context, pair ChannelPair, sourceID, targetID string) error {
	partition := pair.Partition()
	res, err := s.db.Exec(ctx, putPairQuery, string(partition), sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to put pair in %s: %w", partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to put pair in %s: %w", partition, err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrPairNotRegistered, partition)
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, pair ChannelPair, sourceID string) (string, bool, error) {
	return s.scanOne(ctx, getTargetQuery, pair.Partition(), sourceID)
}

func (s *SQLStore) LookupSource(ctx context.Context, pair ChannelPair, targetID string) (string, bool, error) {
	return s.scanOne(ctx, getSourceQuery, pair.Partition(), targetID)
}

func (s *SQLStore) scanOne(ctx context.Context, query string, partition Partition, id string) (string, bool, error) {
	var out string
	err := s.db.QueryRow(ctx, query, string(partition), id).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to look up %s in %s: %w", id, partition, err)
	}
	return out, true, nil
}

func (s *SQLStore) Delete(ctx context.Context, pair ChannelPair, sourceID string) error {
	partition := pair.Partition()
	if _, err := s.db.Exec(ctx, deletePairQuery, string(partition), sourceID); err != nil {
		return fmt.Errorf("failed to delete pair from %s: %w", partition, err)
	}
	return nil
}

func (s *SQLStore) Partitions(ctx context.Context) ([]Partition, error) {
	return listPartitions(ctx, s.db)
}

func listPartitions(ctx context.Context, db *dbutil.Database) ([]Partition, error) {
	names, err := dbutil.ConvertRowFn[string](dbutil.ScanSingleColumn[string]).
		NewRowIter(db.Query(ctx, listPartitionQuery)).
		AsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	partitions := make([]Partition, len(names))
	for i, name := range names {
		partitions[i] = Partition(name)
	}
	return partitions, nil
}

func (s *SQLStore) Sweep(ctx context.Context, horizon time.Time) (SweepResult, error) {
	partitions, err := listPartitions(ctx, s.sweep)
	if err != nil {
		return nil, err
	}
	result := make(SweepResult)
	for _, partition := range partitions {
		sources, err := dbutil.ConvertRowFn[string](dbutil.ScanSingleColumn[string]).
			NewRowIter(s.sweep.Query(ctx, listSourcesQuery, string(partition))).
			AsList()
		if err != nil {
			return result, fmt.Errorf("failed to scan %s: %w", partition, err)
		}
		stale := staleIDs(sources, horizon, s.log)
		for _, batch := range chunk(stale, sweepBatchSize) {
			err = s.sweep.DoTxn(ctx, nil, func(ctx context.Context) error {
				for _, id := range batch {
					if _, err := s.sweep.Exec(ctx, deletePairQuery, string(partition), id); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return result, fmt.Errorf("failed to delete old pairs from %s: %w", partition, err)
			}
			result[partition] += len(batch)
		}
		if len(stale) > 0 {
			s.log.Debug().Str("partition", string(partition)).Int("removed", len(stale)).Msg("Removed old pairs")
		}
	}
	if len(result) == 0 {
		s.log.Debug().Msg("No old pairs found")
	}
	return result, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.RawDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return errors.Join(s.db.Close(), s.sweep.Close())
}

func staleIDs(sources []string, horizon time.Time, log zerolog.Logger) []string {
	var stale []string
	for _, id := range sources {
		if _, err := snowflake.TimestampMillis(id); err != nil {
			log.Debug().Str("source_id", id).Msg("Skipping pair with unparsable source ID")
			continue
		}
		if snowflake.Before(id, horizon) {
			stale = append(stale, id)
		}
	}
	return stale
}
