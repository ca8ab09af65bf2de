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

	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle holds the buffered listing for one open directory handle.
//
// The kernel may issue several ReadDir calls at increasing offsets against a
// single handle, but a KVReader's ListKeys sequence is not restartable
// within a call. So for /kv we fetch and buffer the whole (possibly capped)
// listing once, in OpenDir, and serve every subsequent ReadDir from the
// buffer. Root's listing needs no such buffering: by_parent_ino is already
// resident in memory, so its dirHandle carries no entries of its own.
type dirHandle struct {
	// entries is nil for the root directory handle, whose listing is read
	// directly from the static tree on every ReadDir call.
	entries []fuseutil.Dirent
}

// dirHandles tracks open directory handles by the opaque ID the kernel
// echoes back on ReadDir/ReleaseDirHandle. Opens and releases are rare
// relative to lookup/getattr/read, so a single mutex is sufficient; they
// don't need the resolver's bounded try-lock discipline.
type dirHandles struct {
	mu   sync.Mutex
	next uint64
	m    map[uint64]*dirHandle
}

func newDirHandles() *dirHandles {
	return &dirHandles{m: make(map[uint64]*dirHandle)}
}

func (h *dirHandles) open(dh *dirHandle) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	h.m[id] = dh
	return id
}

func (h *dirHandles) get(id uint64) (*dirHandle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dh, ok := h.m[id]
	return dh, ok
}

func (h *dirHandles) release(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.m, id)
}
