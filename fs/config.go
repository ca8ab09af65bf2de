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
	"os"
	"time"
)

// Config is the adapter's immutable-after-mount configuration. It is the
// only thing the adapter knows about the outside world besides its KVReader;
// CLI parsing, config files, and mount option assembly all live upstream of
// this struct, in cmd/fusedis and cfg.
type Config struct {
	// DisableRaw omits the /raw and /raw:help static entries when true.
	DisableRaw bool

	// ReadOnly has no additional effect on the adapter today -- the data tree
	// is already read-mostly -- but is threaded through from the CLI since a
	// future /raw write channel will need to respect it.
	ReadOnly bool

	Uid, Gid uint32
	Perm     os.FileMode

	// MaxResults caps the number of KV entries returned by a single ReadDir
	// listing of /kv. A negative value disables the cap.
	MaxResults int64

	// ResolverCacheSize is the capacity of the inode resolver's LRU. Zero
	// selects DefaultResolverCapacity.
	ResolverCacheSize int

	// ResolverLockWait bounds how long a resolver operation will retry
	// acquiring its lock before giving up and returning EAGAIN. Zero selects
	// DefaultLockWait.
	ResolverLockWait time.Duration
}
