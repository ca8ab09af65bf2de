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
	"sync"

	"github.com/go-redis/redis/v8"
)

// clusterHashTag pins both sides of the ino cache association to the same
// cluster slot, regardless of which node owns any particular key, so the
// HSET/HGET pair in driverCore stays single-hop.
const clusterHashTag = "{fusekv}"

// ClusterDriver implements Reader against a Redis Cluster deployment.
type ClusterDriver struct {
	client *redis.ClusterClient
	core   driverCore
}

// NewClusterDriver wraps an already-constructed *redis.ClusterClient.
// inoCacheHashKey may be empty, selecting DefaultInoCacheHashKey; it is
// automatically wrapped in a hash tag.
func NewClusterDriver(client *redis.ClusterClient, inoCacheHashKey string) *ClusterDriver {
	if inoCacheHashKey == "" {
		inoCacheHashKey = DefaultInoCacheHashKey
	}
	return &ClusterDriver{
		client: client,
		core:   newDriverCore(client, clusterHashTag+inoCacheHashKey),
	}
}

func (d *ClusterDriver) GetByName(ctx context.Context, name string, ino uint64) (*Entry, error) {
	return d.core.GetByName(ctx, name, ino)
}

func (d *ClusterDriver) GetByIno(ctx context.Context, ino uint64) (*Entry, error) {
	return d.core.GetByIno(ctx, ino)
}

// ListKeys scans every master shard in the cluster, since a cursor-based
// SCAN against a ClusterClient is only ever valid against the single node it
// was issued to. offset is accepted for interface conformance but, as for
// the standalone driver, is advisory only.
func (d *ClusterDriver) ListKeys(ctx context.Context, offset int64) ([]Ref, error) {
	var (
		mu   sync.Mutex
		refs []Ref
	)

	err := d.client.ForEachMaster(ctx, func(ctx context.Context, shard *redis.Client) error {
		var cursor uint64
		for {
			keys, next, err := shard.Scan(ctx, cursor, "", 1000).Result()
			if err != nil {
				return err
			}

			mu.Lock()
			for _, k := range keys {
				if len(refs) >= scanSafetyCap {
					mu.Unlock()
					return nil
				}
				refs = append(refs, Ref{Key: k})
			}
			mu.Unlock()

			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

func (d *ClusterDriver) Read(ctx context.Context, ino uint64, fh uint64, offset int64) ([]byte, error) {
	return d.core.Read(ctx, ino, fh, offset)
}

var _ Reader = (*ClusterDriver)(nil)
