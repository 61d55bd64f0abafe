// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryLedger is an in-process Ledger used in tests and database-less
// development deployments. Counters are per-key atomics, so concurrent
// increments for the same key serialize without a process-wide lock and
// unrelated keys never contend.
//
// Counters are lost on restart; do not use it where usage history matters.
type MemoryLedger struct {
	mu       sync.Mutex
	counters map[string]*int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counters: make(map[string]*int64)}
}

func ledgerKey(key Key, day string) string {
	return key.Email + "|" + day
}

// counter returns the atomic cell for (key, day), creating it when create is
// set. The mutex only guards map access; increments happen on the cell.
func (l *MemoryLedger) counter(key Key, day string, create bool) *int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := ledgerKey(key, day)
	c, ok := l.counters[k]
	if !ok && create {
		c = new(int64)
		l.counters[k] = c
	}
	return c
}

func (l *MemoryLedger) GetCount(ctx context.Context, key Key, day string) (int, error) {
	if err := validateLedgerArgs(key, day); err != nil {
		return 0, err
	}

	c := l.counter(key, day, false)
	if c == nil {
		return 0, nil
	}
	return int(atomic.LoadInt64(c)), nil
}

func (l *MemoryLedger) IncrementAndGet(ctx context.Context, key Key, day string) (int, error) {
	if err := validateLedgerArgs(key, day); err != nil {
		return 0, err
	}

	c := l.counter(key, day, true)
	return int(atomic.AddInt64(c, 1)), nil
}

func (l *MemoryLedger) IncrementIfBelow(ctx context.Context, key Key, day string, limit int) (int, bool, error) {
	if err := validateLedgerArgs(key, day); err != nil {
		return 0, false, err
	}
	if limit <= 0 {
		count, err := l.GetCount(ctx, key, day)
		return count, false, err
	}

	c := l.counter(key, day, true)
	for {
		cur := atomic.LoadInt64(c)
		if cur >= int64(limit) {
			return int(cur), false, nil
		}
		if atomic.CompareAndSwapInt64(c, cur, cur+1) {
			return int(cur + 1), true, nil
		}
	}
}

// Snapshot returns a copy of all counters, for diagnostics.
func (l *MemoryLedger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.counters))
	for k, c := range l.counters {
		out[k] = int(atomic.LoadInt64(c))
	}
	return out
}

var _ Ledger = (*MemoryLedger)(nil)
var _ Ledger = (*PostgresLedger)(nil)

// String implements fmt.Stringer for debugging.
func (l *MemoryLedger) String() string {
	return fmt.Sprintf("MemoryLedger(%d keys)", len(l.Snapshot()))
}
