// Copyright 2024 Google Inc. All Rights Reserved.
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

// Command fusedis mounts a Redis keyspace as a read-mostly FUSE filesystem.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roganartu/fusedis/cfg"
	"github.com/roganartu/fusedis/fs"
	"github.com/roganartu/fusedis/internal/logger"
	"github.com/roganartu/fusedis/kv"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fusedis MOUNT_POINT",
		Short: "Mount a Redis keyspace as a FUSE filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}

	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		// BindFlags only fails if a key it binds has no registered flag; that's
		// a programming error, not something a user can hit.
		panic(err)
	}

	return cmd
}

func run(ctx context.Context, mountPoint string) error {
	resolved, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:    resolved.LogLevel,
		Format:   logger.Format(resolved.LogFormat),
		FilePath: resolved.LogFile,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Close()

	driver, err := buildDriver(ctx, resolved)
	if err != nil {
		log.Errorf("driver handshake failed: %v", err)
		return fmt.Errorf("building redis driver: %w", err)
	}

	fsCfg := fs.Config{
		DisableRaw:        resolved.NoRaw,
		ReadOnly:          resolved.ReadOnly,
		Uid:               resolveOwner(resolved.Uid, os.Getuid()),
		Gid:               resolveOwner(resolved.Gid, os.Getgid()),
		Perm:              os.FileMode(resolved.Perm),
		MaxResults:        resolved.MaxResults,
		ResolverCacheSize: fs.DefaultResolverCapacity,
		ResolverLockWait:  fs.DefaultLockWait,
	}

	server, err := fs.NewServer(fsCfg, driver, log)
	if err != nil {
		return fmt.Errorf("building filesystem server: %w", err)
	}

	log.Infof("mounting %s (cluster=%v no-raw=%v read-only=%v)", mountPoint, resolved.Cluster, resolved.NoRaw, resolved.ReadOnly)

	mountCfg := &fuse.MountConfig{
		FSName:   "fusedis",
		ReadOnly: resolved.ReadOnly,
		Options:  map[string]string{},
	}
	if resolved.AllowRoot {
		mountCfg.Options["allow_root"] = ""
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", mountPoint, err)
	}

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("serving %s: %w", mountPoint, err)
	}

	return nil
}

// resolveOwner maps a negative --uid/--gid (the "unset" sentinel BindFlags
// registers) onto the invoking process' own id.
func resolveOwner(configured, self int) uint32 {
	if configured < 0 {
		return uint32(self)
	}
	return uint32(configured)
}

// buildDriver constructs either a standalone or cluster-wide Redis-backed
// kv.Reader from the resolved CLI configuration. The initial PING is the one
// fatal failure path: once the filesystem is registered with the kernel, all
// driver errors surface as EAGAIN instead.
func buildDriver(ctx context.Context, c cfg.Config) (kv.Reader, error) {
	if len(c.Addrs) == 0 {
		return nil, fmt.Errorf("at least one --addr is required")
	}

	if c.Cluster {
		client := redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    c.Addrs,
			Password: c.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("pinging cluster %v: %w", c.Addrs, err)
		}
		return kv.NewClusterDriver(client, ""), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.Addrs[0],
		Password: c.Password,
		DB:       c.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging %s: %w", c.Addrs[0], err)
	}
	return kv.NewRedisDriver(client, ""), nil
}

func init() {
	// Allow a config file (named fusedis, any viper-supported extension) to
	// supply defaults below flags but above built-in zero values.
	viper.SetConfigName("fusedis")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/fusedis")
	_ = viper.ReadInConfig()
}
