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

package kv

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// DefaultInoCacheHashKey names the Redis hash used to persist the (name,
// ino) association observed on every GetByName hit. A ":rev" suffixed
// sibling hash holds the reverse (ino, name) direction so GetByIno can avoid
// depending solely on the adapter's in-process resolver.
const DefaultInoCacheHashKey = "__fusekv_ino_cache__"

// scanSafetyCap bounds how many keys a single ListKeys call will ever
// accumulate, regardless of the caller's max_results setting, so that a scan
// against an enormous keyspace can't run unbounded.
const scanSafetyCap = 1 << 20

// redisCmdable is the subset of *redis.Client and *redis.ClusterClient this
// package depends on. Factoring it out lets RedisDriver and ClusterDriver
// share one implementation.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// driverCore implements Reader against any redisCmdable. RedisDriver and
// ClusterDriver are thin wrappers that supply the concrete client and the
// hash key tagging appropriate for their topology.
type driverCore struct {
	client      redisCmdable
	forwardHash string
	reverseHash string
}

func newDriverCore(client redisCmdable, inoCacheHashKey string) driverCore {
	if inoCacheHashKey == "" {
		inoCacheHashKey = DefaultInoCacheHashKey
	}
	return driverCore{
		client:      client,
		forwardHash: inoCacheHashKey,
		reverseHash: inoCacheHashKey + ":rev",
	}
}

func (d driverCore) GetByName(ctx context.Context, name string, ino uint64) (*Entry, error) {
	val, err := d.client.Get(ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Best-effort side effect: remember both directions of the association so
	// GetByIno can serve later without the in-process resolver. Failures here
	// don't affect the lookup's own result.
	inoStr := strconv.FormatUint(ino, 10)
	d.client.HSet(ctx, d.forwardHash, name, inoStr)
	d.client.HSet(ctx, d.reverseHash, inoStr, name)

	return &Entry{Ino: ino, Key: name, Val: val}, nil
}

func (d driverCore) GetByIno(ctx context.Context, ino uint64) (*Entry, error) {
	name, err := d.client.HGet(ctx, d.reverseHash, strconv.FormatUint(ino, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return d.GetByName(ctx, name, ino)
}

func (d driverCore) ListKeys(ctx context.Context, offset int64) ([]Ref, error) {
	var (
		cursor uint64
		refs   []Ref
	)

	for {
		var (
			keys []string
			err  error
		)
		keys, cursor, err = d.client.Scan(ctx, cursor, "", 1000).Result()
		if err != nil {
			return nil, err
		}

		for _, k := range keys {
			refs = append(refs, Ref{Key: k})
			if len(refs) >= scanSafetyCap {
				return refs, nil
			}
		}

		if cursor == 0 {
			break
		}
	}

	return refs, nil
}

func (d driverCore) Read(ctx context.Context, ino uint64, fh uint64, offset int64) ([]byte, error) {
	name, err := d.client.HGet(ctx, d.reverseHash, strconv.FormatUint(ino, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	val, err := d.client.Get(ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// RedisDriver implements Reader against a single Redis instance (or a
// primary/replica pair fronted by Sentinel, transparently to this package,
// since go-redis's Sentinel client satisfies redisCmdable too).
type RedisDriver struct {
	core driverCore
}

// NewRedisDriver wraps an already-constructed *redis.Client. inoCacheHashKey
// may be empty, selecting DefaultInoCacheHashKey.
func NewRedisDriver(client *redis.Client, inoCacheHashKey string) *RedisDriver {
	return &RedisDriver{core: newDriverCore(client, inoCacheHashKey)}
}

func (d *RedisDriver) GetByName(ctx context.Context, name string, ino uint64) (*Entry, error) {
	return d.core.GetByName(ctx, name, ino)
}

func (d *RedisDriver) GetByIno(ctx context.Context, ino uint64) (*Entry, error) {
	return d.core.GetByIno(ctx, ino)
}

func (d *RedisDriver) ListKeys(ctx context.Context, offset int64) ([]Ref, error) {
	return d.core.ListKeys(ctx, offset)
}

func (d *RedisDriver) Read(ctx context.Context, ino uint64, fh uint64, offset int64) ([]byte, error) {
	return d.core.Read(ctx, ino, fh, offset)
}

var _ Reader = (*RedisDriver)(nil)
