// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fs

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// The inode space is carved into disjoint ranges so that a single bounds
// check classifies any given inode.
const (
	RootInodeID = 1

	RawRangeStart = 2
	RawRangeEnd   = 8191 // inclusive

	LockRangeStart = 8192
	LockRangeEnd   = 100000000000000 // inclusive, reserved, unused

	// KVRangeStart and kvSpan define the dynamic, driver-backed range of the
	// inode space. kvSpan is "S" in the allocation formula below.
	KVRangeStart = 400000000000000
	kvSpan       = 100000000000000
)

// Literal static inode constants from the mount-point layout. Changing any
// of these is a breaking change for clients that cache inode numbers.
const (
	RawInodeID     = 2
	RawHelpInodeID = 3

	LockDirInodeID  = 2048
	LockHelpInodeID = 2049

	KVDirInodeID   = 4096
	KVHelpInodeID  = 4097
)

// Assign computes the deterministic inode for a key in the KV range. It is a
// pure function: the same key always yields the same inode for the lifetime
// of the process (and across processes, since the hash and range are fixed).
func Assign(key string) uint64 {
	return (xxhash.Sum64String(key) % kvSpan) + KVRangeStart
}

// InKVRange reports whether ino falls in the dynamic, driver-backed range.
func InKVRange(ino uint64) bool {
	return ino >= KVRangeStart && ino < KVRangeStart+kvSpan
}

// InRawRange reports whether ino falls in the static control range.
func InRawRange(ino uint64) bool {
	return ino >= RawRangeStart && ino <= RawRangeEnd
}

// ErrWouldBlock is returned by Resolver methods that could not acquire their
// lock within the configured bounded wait. It is never a permanent failure:
// the caller should translate it to EAGAIN and let the kernel client retry.
var ErrWouldBlock = wouldBlockError{}

type wouldBlockError struct{}

func (wouldBlockError) Error() string { return "resolver: lock not acquired within bounded wait" }

// Resolver is the best-effort inode -> key reverse mapping described in the
// design's inode allocator and resolver component. It wraps a non-thread-safe
// LRU with a reader/writer discipline: any number of concurrent Resolve
// calls, one Remember at a time, and neither ever blocks indefinitely.
//
// The cache is a hint only. A miss is not an error; callers fall back to the
// driver.
type Resolver struct {
	mu       sync.RWMutex
	lru      *simplelru.LRU[uint64, string]
	lockWait time.Duration
}

// DefaultResolverCapacity is the default number of (ino, key) pairs the
// resolver holds before evicting the least recently used entry.
const DefaultResolverCapacity = 1000000

// DefaultLockWait is the default bounded wait for acquiring the resolver's
// lock before giving up and returning ErrWouldBlock.
const DefaultLockWait = 25 * time.Millisecond

// NewResolver constructs a resolver with the given capacity and bounded lock
// wait. A non-positive capacity or lockWait falls back to the defaults above.
func NewResolver(capacity int, lockWait time.Duration) *Resolver {
	if capacity <= 0 {
		capacity = DefaultResolverCapacity
	}
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}

	lru, err := simplelru.NewLRU[uint64, string](capacity, nil)
	if err != nil {
		// Only returns an error for a non-positive size, which we've just
		// guarded against above.
		panic(err)
	}

	return &Resolver{
		lru:      lru,
		lockWait: lockWait,
	}
}

// tryRLock attempts to acquire the read lock within the resolver's bounded
// wait, spinning with a short backoff rather than blocking forever.
func (r *Resolver) tryRLock() bool {
	return tryAcquire(r.lockWait, r.mu.TryRLock)
}

func (r *Resolver) tryLock() bool {
	return tryAcquire(r.lockWait, r.mu.TryLock)
}

// tryAcquire retries acquire (sync.RWMutex.TryLock or TryRLock) with a short
// backoff until deadline elapses. The deadline is checked before each sleep,
// so the total wait can exceed deadline by at most one backoff interval.
func tryAcquire(deadline time.Duration, acquire func() bool) bool {
	if acquire() {
		return true
	}

	const backoff = 200 * time.Microsecond
	deadlineAt := time.Now().Add(deadline)
	for time.Now().Before(deadlineAt) {
		time.Sleep(backoff)
		if acquire() {
			return true
		}
	}

	return false
}

// Resolve returns the key previously remembered for ino, if any. A false
// second return means either the entry isn't cached or the lock could not be
// acquired within the bounded wait (ErrWouldBlock semantics collapse to a
// plain miss here, since Resolve is defined to never fail the adapter --
// only Remember, whose failure is meaningful, returns an error).
//
// Peek rather than Get: Get updates the LRU's recency list, which is a write
// and would race under the shared read lock. Recency is refreshed by
// Remember instead, which the adapter calls on every successful resolution
// anyway.
func (r *Resolver) Resolve(ino uint64) (string, bool) {
	if !r.tryRLock() {
		return "", false
	}
	defer r.mu.RUnlock()

	return r.lru.Peek(ino)
}

// Remember inserts or refreshes the (ino, key) association. It returns
// ErrWouldBlock if the write lock could not be acquired within the bounded
// wait; this is never fatal to the mount and the caller should surface
// EAGAIN.
func (r *Resolver) Remember(ino uint64, key string) error {
	if !r.tryLock() {
		return ErrWouldBlock
	}
	defer r.mu.Unlock()

	r.lru.Add(ino, key)
	return nil
}

// Len reports the number of entries currently cached. Used only by tests and
// diagnostics; never consulted by adapter logic.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lru.Len()
}
