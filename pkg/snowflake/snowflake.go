// Copyright 2024-2026 Aiku AI

// Package snowflake converts between message identifiers and the creation
// time encoded in them.
package snowflake

import (
	"fmt"
	"strconv"
	"time"
)

// Epoch is the first millisecond of 2015 in Unix milliseconds.
const Epoch int64 = 1420070400000

const timestampShift = 22

// TimestampMillis returns the creation time of id in Unix milliseconds.
func TimestampMillis(id string) (int64, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", id, err)
	}
	return int64(n>>timestampShift) + Epoch, nil
}

// Timestamp returns the creation time of id.
func Timestamp(id string) (time.Time, error) {
	ms, err := TimestampMillis(id)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// FromTime returns the smallest identifier minted at t.
func FromTime(t time.Time) string {
	ms := t.UnixMilli() - Epoch
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatUint(uint64(ms)<<timestampShift, 10)
}

// Nonce returns an identifier for the current time, used to deduplicate sends.
func Nonce() string {
	return FromTime(time.Now())
}

// Before reports whether id was minted before t. Identifiers that do not
// parse are never before anything.
func Before(id string, t time.Time) bool {
	ms, err := TimestampMillis(id)
	if err != nil {
		return false
	}
	return ms < t.UnixMilli()
}
