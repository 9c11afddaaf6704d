// Copyright 2024-2026 Aiku AI

// Package pairstore records which message on the target platform each
// relayed source message became, scoped by channel pair, and expires those
// records after a retention window.
package pairstore

import (
	"context"
	"errors"
	"time"
)

// ErrPairNotRegistered is returned when writing to a channel pair that was
// never passed to RegisterPair.
var ErrPairNotRegistered = errors.New("channel pair not registered")

// Partition is the storage name of one channel pair.
type Partition string

// ChannelPair links one source channel to one target channel in one direction.
type ChannelPair struct {
	SourceChannelID string `json:"source_channel_id"`
	TargetChannelID string `json:"target_channel_id"`
}

// NewChannelPair creates a ChannelPair.
func NewChannelPair(source, target string) ChannelPair {
	return ChannelPair{SourceChannelID: source, TargetChannelID: target}
}

// Partition returns the deterministic storage name of the pair.
func (p ChannelPair) Partition() Partition {
	return Partition("pair_" + p.SourceChannelID + "_" + p.TargetChannelID)
}

// Reverse returns the pair for the opposite direction.
func (p ChannelPair) Reverse() ChannelPair {
	return ChannelPair{SourceChannelID: p.TargetChannelID, TargetChannelID: p.SourceChannelID}
}

// SweepResult holds the number of mappings removed per partition. Partitions
// with nothing removed are omitted.
type SweepResult map[Partition]int

// Total returns the number of mappings removed across all partitions.
func (r SweepResult) Total() int {
	total := 0
	for _, n := range r {
		total += n
	}
	return total
}

// Store is a durable source message ID to target message ID mapping.
//
// Put, Lookup, LookupSource and Delete are called from a single routing
// goroutine. Sweep may run concurrently with them and uses its own handle.
type Store interface {
	// RegisterPair idempotently provisions storage for pair.
	RegisterPair(ctx context.Context, pair ChannelPair) (Partition, error)
	// Put stores or replaces the target of sourceID.
	Put(ctx context.Context, pair ChannelPair, sourceID, targetID string) error
	// Lookup returns the target of sourceID. A missing mapping is not an error.
	Lookup(ctx context.Context, pair ChannelPair, sourceID string) (string, bool, error)
	// LookupSource returns the source that was relayed as targetID.
	LookupSource(ctx context.Context, pair ChannelPair, targetID string) (string, bool, error)
	// Delete removes the mapping of sourceID if present.
	Delete(ctx context.Context, pair ChannelPair, sourceID string) error
	// Sweep removes every mapping whose source ID was minted before horizon.
	Sweep(ctx context.Context, horizon time.Time) (SweepResult, error)
	// Partitions lists the registered partitions.
	Partitions(ctx context.Context) ([]Partition, error)
	Ping(ctx context.Context) error
	Close() error
}

// sweepBatchSize bounds how many rows one sweep transaction deletes.
const sweepBatchSize = 500

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
