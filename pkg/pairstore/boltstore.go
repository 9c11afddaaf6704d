// Copyright 2024-2026 Aiku AI

package pairstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

var (
	bucketRegistry = []byte("channel_pairs")
	bucketByTarget = []byte("by_target")
)

// BoltStore is a Store in a single bbolt file. Each partition is a bucket of
// source to target IDs with a nested by_target bucket for reverse lookups.
type BoltStore struct {
	name string
	db   *bbolt.DB
	log  zerolog.Logger
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates a bbolt pair store at path.
func NewBoltStore(name, path string, log zerolog.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRegistry)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing bolt db: %w", err)
	}
	log = log.With().Str("component", "pairstore").Str("store", name).Logger()
	log.Info().Str("path", path).Msg("Pair store initialized")
	return &BoltStore{name: name, db: db, log: log}, nil
}

func (s *BoltStore) RegisterPair(_ context.Context, pair ChannelPair) (Partition, error) {
	partition := pair.Partition()
	value, err := json.Marshal(pair)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return err
		}
		if _, err = b.CreateBucketIfNotExists(bucketByTarget); err != nil {
			return err
		}
		return tx.Bucket(bucketRegistry).Put([]byte(partition), value)
	})
	if err != nil {
		return "", fmt.Errorf("failed to register %s: %w", partition, err)
	}
	return partition, nil
}

func (s *BoltStore) Put(_ context.Context, pair ChannelPair, sourceID, targetID string) error {
	partition := pair.Partition()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := partitionBucket(tx, partition)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrPairNotRegistered, partition)
		}
		rev := b.Bucket(bucketByTarget)
		if old := b.Get([]byte(sourceID)); old != nil {
			if err := deleteReverse(rev, old, []byte(sourceID)); err != nil {
				return err
			}
		}
		if err := b.Put([]byte(sourceID), []byte(targetID)); err != nil {
			return fmt.Errorf("failed to put pair in %s: %w", partition, err)
		}
		return rev.Put([]byte(targetID), []byte(sourceID))
	})
}

func (s *BoltStore) Lookup(_ context.Context, pair ChannelPair, sourceID string) (target string, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := partitionBucket(tx, pair.Partition())
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(sourceID)); v != nil {
			target, found = string(v), true
		}
		return nil
	})
	return
}

func (s *BoltStore) LookupSource(_ context.Context, pair ChannelPair, targetID string) (source string, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := partitionBucket(tx, pair.Partition())
		if b == nil {
			return nil
		}
		if v := b.Bucket(bucketByTarget).Get([]byte(targetID)); v != nil {
			source, found = string(v), true
		}
		return nil
	})
	return
}

func (s *BoltStore) Delete(_ context.Context, pair ChannelPair, sourceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := partitionBucket(tx, pair.Partition())
		if b == nil {
			return nil
		}
		return deletePair(b, []byte(sourceID))
	})
}

func (s *BoltStore) Partitions(_ context.Context) ([]Partition, error) {
	var partitions []Partition
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRegistry).ForEach(func(k, _ []byte) error {
			partitions = append(partitions, Partition(k))
			return nil
		})
	})
	return partitions, err
}

func (s *BoltStore) Sweep(ctx context.Context, horizon time.Time) (SweepResult, error) {
	partitions, err := s.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	result := make(SweepResult)
	for _, partition := range partitions {
		if err = ctx.Err(); err != nil {
			return result, err
		}
		var sources []string
		err = s.db.View(func(tx *bbolt.Tx) error {
			b := partitionBucket(tx, partition)
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				// Nested buckets have nil values.
				if v != nil {
					sources = append(sources, string(k))
				}
				return nil
			})
		})
		if err != nil {
			return result, fmt.Errorf("failed to scan %s: %w", partition, err)
		}
		stale := staleIDs(sources, horizon, s.log)
		for _, batch := range chunk(stale, sweepBatchSize) {
			err = s.db.Update(func(tx *bbolt.Tx) error {
				b := partitionBucket(tx, partition)
				if b == nil {
					return nil
				}
				for _, id := range batch {
					if err := deletePair(b, []byte(id)); err != nil {
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

func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func partitionBucket(tx *bbolt.Tx, partition Partition) *bbolt.Bucket {
	if tx.Bucket(bucketRegistry).Get([]byte(partition)) == nil {
		return nil
	}
	return tx.Bucket([]byte(partition))
}

func deletePair(b *bbolt.Bucket, sourceID []byte) error {
	target := b.Get(sourceID)
	if target == nil {
		return nil
	}
	if err := deleteReverse(b.Bucket(bucketByTarget), target, sourceID); err != nil {
		return err
	}
	return b.Delete(sourceID)
}

// deleteReverse drops target from the reverse index only if it still points
// at sourceID.
func deleteReverse(rev *bbolt.Bucket, target, sourceID []byte) error {
	if bytes.Equal(rev.Get(target), sourceID) {
		return rev.Delete(target)
	}
	return nil
}
