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

// Package cfg binds the flags cmd/fusedis exposes to viper, and resolves
// them into the typed Config this module's other packages consume. None of
// this is read by the fs package directly -- cmd/fusedis translates a
// resolved Config into fs.Config and a kv.Reader.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a single mount, after
// flags and config file have been merged by viper. Environment variables are
// not read.
type Config struct {
	AllowRoot bool `mapstructure:"allow-root"`
	ReadOnly  bool `mapstructure:"read-only"`
	NoRaw     bool `mapstructure:"no-raw"`

	Addrs    []string `mapstructure:"addr"`
	Cluster  bool     `mapstructure:"cluster"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`

	MaxResults int64 `mapstructure:"max-results"`
	Uid        int   `mapstructure:"uid"`
	Gid        int   `mapstructure:"gid"`
	Perm       int   `mapstructure:"perm"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`
}

// BindFlags registers every flag cmd/fusedis exposes and wires each to its
// viper key, so that Resolve (after flagSet.Parse) reflects explicitly set
// flags, then config file, then flag defaults, in viper's usual precedence.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(key string, bindErr *error) {
		if *bindErr != nil {
			return
		}
		*bindErr = viper.BindPFlag(key, flagSet.Lookup(key))
	}

	flagSet.Bool("allow-root", false, "Allow root to access the mount regardless of permissions.")
	flagSet.Bool("read-only", false, "Mount read-only. Implies --no-raw.")
	flagSet.Bool("no-raw", false, "Don't mount the /raw control path.")

	flagSet.StringSlice("addr", []string{"127.0.0.1:6379"}, "Redis address(es). Repeatable; only the first is used unless --cluster is set.")
	flagSet.Bool("cluster", false, "Use a Redis Cluster client instead of a standalone client.")
	flagSet.String("password", "", "Redis AUTH password.")
	flagSet.Int("db", 0, "Redis logical database number (ignored in cluster mode).")

	flagSet.Int64("max-results", -1, "Cap on entries returned by a single /kv listing. Negative disables the cap.")
	flagSet.Int("uid", -1, "UID owner of all inodes. Defaults to the invoking process' UID.")
	flagSet.Int("gid", -1, "GID owner of all inodes. Defaults to the invoking process' GID.")
	flagSet.Int("perm", 0444, "Permission bits, in octal, applied to every node.")

	flagSet.String("log-level", "info", "One of trace, debug, info, warning, error, off.")
	flagSet.String("log-format", "json", "One of text, json.")
	flagSet.String("log-file", "", "Path to a rotated log file. Empty means stderr.")

	var err error
	for _, key := range []string{
		"allow-root", "read-only", "no-raw",
		"addr", "cluster", "password", "db",
		"max-results", "uid", "gid", "perm",
		"log-level", "log-format", "log-file",
	} {
		bind(key, &err)
	}

	return err
}

// Resolve unmarshals viper's merged state (flags, config file) into a
// Config.
func Resolve() (Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return Config{}, err
	}

	if c.ReadOnly {
		c.NoRaw = true
	}

	return c, nil
}
