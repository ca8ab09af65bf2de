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
	"sort"

	"github.com/jacobsa/fuse/fuseops"
)

// staticEntry is a node of the fixed directory tree built once at mount:
// /raw, /lock, /kv and their :help siblings, plus the root itself.
type staticEntry struct {
	ino     uint64
	name    string
	isDir   bool
	attr    fuseops.InodeAttributes
	content []byte // non-nil for help files; nil for directories
}

const (
	rawHelpText = "raw is reserved for a future raw-command passthrough " +
		"channel. It is not implemented in this mount.\n"
	lockHelpText = "lock is reserved for a future advisory-locking " +
		"namespace. It is not implemented in this mount.\n"
	kvHelpText = "kv contains one file per key in the backing store. " +
		"Reading a file returns the value followed by a trailing " +
		"newline. Listing the directory enumerates keys.\n"
)

// staticTree holds the two lookup structures the static namespace builder
// populates once, at construction, and which are never mutated afterward.
type staticTree struct {
	byIno map[uint64]staticEntry

	// byParentIno maps a parent inode to its children, keyed by name. Only
	// root (ino 1) has children today, but the shape generalizes if future
	// static directories grow their own.
	byParentIno map[uint64]map[string]staticEntry

	// ordered holds each parent's children sorted by name, frozen at
	// construction, so a readdir paginated across calls always sees the same
	// sequence.
	ordered map[uint64][]staticEntry
}

// newStaticTree builds the fixed directory layout described in the
// mount-point layout table. If cfg.DisableRaw is set, /raw and /raw:help are
// omitted; every other static entry is present unconditionally.
func newStaticTree(cfg Config, attrs *attrFactory) *staticTree {
	t := &staticTree{
		byIno:       make(map[uint64]staticEntry),
		byParentIno: make(map[uint64]map[string]staticEntry),
		ordered:     make(map[uint64][]staticEntry),
	}

	root := staticEntry{ino: RootInodeID, name: "/", isDir: true, attr: attrs.forDir()}
	t.byIno[root.ino] = root
	rootChildren := make(map[string]staticEntry)

	addHelp := func(ino uint64, name string, text string) staticEntry {
		e := staticEntry{
			ino:     ino,
			name:    name,
			isDir:   false,
			attr:    attrs.forFile(uint64(len(text))),
			content: []byte(text),
		}
		t.byIno[e.ino] = e
		return e
	}

	addDir := func(ino uint64, name string) staticEntry {
		e := staticEntry{ino: ino, name: name, isDir: true, attr: attrs.forDir()}
		t.byIno[e.ino] = e
		return e
	}

	if !cfg.DisableRaw {
		// /raw is a zero-size regular file: a reserved command channel, not a
		// directory. It has no readable content until the write path exists.
		raw := staticEntry{ino: RawInodeID, name: "raw", attr: attrs.forFile(0)}
		t.byIno[raw.ino] = raw
		rawHelp := addHelp(RawHelpInodeID, "raw:help", rawHelpText)
		rootChildren[raw.name] = raw
		rootChildren[rawHelp.name] = rawHelp
	}

	lock := addDir(LockDirInodeID, "lock")
	lockHelp := addHelp(LockHelpInodeID, "lock:help", lockHelpText)
	rootChildren[lock.name] = lock
	rootChildren[lockHelp.name] = lockHelp

	kv := addDir(KVDirInodeID, "kv")
	kvHelp := addHelp(KVHelpInodeID, "kv:help", kvHelpText)
	rootChildren[kv.name] = kv
	rootChildren[kvHelp.name] = kvHelp

	t.byParentIno[RootInodeID] = rootChildren

	names := make([]string, 0, len(rootChildren))
	for name := range rootChildren {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.ordered[RootInodeID] = append(t.ordered[RootInodeID], rootChildren[name])
	}

	return t
}

// lookup finds the child of parent named name, if any.
func (t *staticTree) lookup(parent uint64, name string) (staticEntry, bool) {
	children, ok := t.byParentIno[parent]
	if !ok {
		return staticEntry{}, false
	}
	e, ok := children[name]
	return e, ok
}

// get finds the entry with the given inode, if any.
func (t *staticTree) get(ino uint64) (staticEntry, bool) {
	e, ok := t.byIno[ino]
	return e, ok
}

// children returns the name-sorted list of parent's children, for
// readdir(1). The slice is construction-frozen; callers must not mutate it.
func (t *staticTree) children(parent uint64) []staticEntry {
	return t.ordered[parent]
}
