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
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roganartu/fusedis/internal/logger"
	"github.com/roganartu/fusedis/kv"
)

// fakeDriver is a hand-written kv.Reader double. Entries are keyed by name;
// GetByIno resolves through a separately tracked ino index, mirroring how a
// real driver's reverse-hash cache behaves.
type fakeDriver struct {
	byName map[string][]byte
	byIno  map[uint64]string

	failNext bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		byName: make(map[string][]byte),
		byIno:  make(map[uint64]string),
	}
}

func (d *fakeDriver) put(key string, val []byte) {
	d.byName[key] = val
	d.byIno[Assign(key)] = key
}

func (d *fakeDriver) GetByName(ctx context.Context, name string, ino uint64) (*kv.Entry, error) {
	if d.failNext {
		d.failNext = false
		return nil, errors.New("boom")
	}
	val, ok := d.byName[name]
	if !ok {
		return nil, nil
	}
	return &kv.Entry{Ino: ino, Key: name, Val: val}, nil
}

func (d *fakeDriver) GetByIno(ctx context.Context, ino uint64) (*kv.Entry, error) {
	name, ok := d.byIno[ino]
	if !ok {
		return nil, nil
	}
	return d.GetByName(ctx, name, ino)
}

func (d *fakeDriver) ListKeys(ctx context.Context, offset int64) ([]kv.Ref, error) {
	refs := make([]kv.Ref, 0, len(d.byName))
	for k := range d.byName {
		refs = append(refs, kv.Ref{Key: k})
	}
	return refs, nil
}

func (d *fakeDriver) Read(ctx context.Context, ino uint64, fh uint64, offset int64) ([]byte, error) {
	name, ok := d.byIno[ino]
	if !ok {
		return nil, nil
	}
	return d.byName[name], nil
}

var _ kv.Reader = (*fakeDriver)(nil)

func newTestFileSystem(t *testing.T, driver kv.Reader) *fileSystem {
	return newTestFileSystemWithConfig(t, driver, Config{Uid: 1, Gid: 1, Perm: 0444, MaxResults: -1})
}

func newTestFileSystemWithConfig(t *testing.T, driver kv.Reader, cfg Config) *fileSystem {
	log, err := logger.New(logger.Config{Level: "off"})
	require.NoError(t, err)

	attrs := newAttrFactory(cfg)
	return &fileSystem{
		cfg:      cfg,
		driver:   driver,
		resolver: NewResolver(cfg.ResolverCacheSize, cfg.ResolverLockWait),
		static:   newStaticTree(cfg, attrs),
		attrs:    attrs,
		dirs:     newDirHandles(),
		log:      log,
	}
}

func TestLookUpInodeStaticEntry(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.LookUpInodeOp{Parent: RootInodeID, Name: "kv"}
	err := fs.LookUpInode(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, fuseops.InodeID(KVDirInodeID), op.Entry.Child)
}

func TestLookUpInodeStaticEntryMissIsENOENT(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.LookUpInodeOp{Parent: RootInodeID, Name: "nope"}
	err := fs.LookUpInode(context.Background(), op)

	assert.Equal(t, fuse.ENOENT, err)
}

func TestLookUpInodeRejectsEmptyName(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.LookUpInodeOp{Parent: RootInodeID, Name: ""}
	err := fs.LookUpInode(context.Background(), op)

	assert.Equal(t, fuse.ENOENT, err)
}

func TestLookUpInodeKVHit(t *testing.T) {
	driver := newFakeDriver()
	driver.put("hello", []byte("world"))
	fs := newTestFileSystem(t, driver)

	op := &fuseops.LookUpInodeOp{Parent: KVDirInodeID, Name: "hello"}
	err := fs.LookUpInode(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, Assign("hello"), uint64(op.Entry.Child))
	assert.Equal(t, uint64(len("world")+1), op.Entry.Attributes.Size)

	// Side effect: the resolver now remembers this association.
	key, ok := fs.resolver.Resolve(Assign("hello"))
	require.True(t, ok)
	assert.Equal(t, "hello", key)
}

func TestLookUpInodeKVMissIsENOENT(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.LookUpInodeOp{Parent: KVDirInodeID, Name: "missing"}
	err := fs.LookUpInode(context.Background(), op)

	assert.Equal(t, fuse.ENOENT, err)
}

func TestLookUpInodeKVDriverErrorIsEAGAIN(t *testing.T) {
	driver := newFakeDriver()
	driver.failNext = true
	fs := newTestFileSystem(t, driver)

	op := &fuseops.LookUpInodeOp{Parent: KVDirInodeID, Name: "whatever"}
	err := fs.LookUpInode(context.Background(), op)

	assert.Equal(t, errAgain, err)
}

// newContendedFileSystem builds a filesystem whose resolver lock is held by
// the test, with a wait short enough that every Remember (and every Resolve)
// gives up almost immediately. The caller must release the returned unlock.
func newContendedFileSystem(t *testing.T, driver kv.Reader) (*fileSystem, func()) {
	fs := newTestFileSystemWithConfig(t, driver, Config{
		Uid: 1, Gid: 1, Perm: 0444, MaxResults: -1,
		ResolverLockWait: time.Millisecond,
	})
	fs.resolver.mu.Lock()
	return fs, fs.resolver.mu.Unlock
}

func TestLookUpInodeKVResolverContentionIsEAGAIN(t *testing.T) {
	driver := newFakeDriver()
	driver.put("hello", []byte("world"))
	fs, unlock := newContendedFileSystem(t, driver)
	defer unlock()

	op := &fuseops.LookUpInodeOp{Parent: KVDirInodeID, Name: "hello"}
	err := fs.LookUpInode(context.Background(), op)

	assert.Equal(t, errAgain, err)
}

func TestGetInodeAttributesResolverContentionIsEAGAIN(t *testing.T) {
	driver := newFakeDriver()
	driver.put("foo", []byte("bar"))
	fs, unlock := newContendedFileSystem(t, driver)
	defer unlock()

	// Resolve misses under the held lock, GetByIno succeeds, then the
	// mandated Remember can't be acquired.
	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.InodeID(Assign("foo"))}
	err := fs.GetInodeAttributes(context.Background(), op)

	assert.Equal(t, errAgain, err)
}

func TestOpenDirKVResolverContentionIsEAGAIN(t *testing.T) {
	driver := newFakeDriver()
	driver.put("a", []byte("1"))
	fs, unlock := newContendedFileSystem(t, driver)
	defer unlock()

	err := fs.OpenDir(context.Background(), &fuseops.OpenDirOp{Inode: KVDirInodeID})

	assert.Equal(t, errAgain, err)
}

func TestLookUpInodeUnknownParentIsENOENT(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(999999), Name: "x"}
	err := fs.LookUpInode(context.Background(), op)

	assert.Equal(t, fuse.ENOENT, err)
}

func TestGetInodeAttributesRoot(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.GetInodeAttributesOp{Inode: RootInodeID}
	err := fs.GetInodeAttributes(context.Background(), op)

	require.NoError(t, err)
	assert.NotZero(t, op.Attributes.Mode&os.ModeDir)
	assert.Equal(t, uint32(1), op.Attributes.Uid)
}

func TestGetInodeAttributesKVViaResolver(t *testing.T) {
	driver := newFakeDriver()
	driver.put("foo", []byte("bar"))
	fs := newTestFileSystem(t, driver)

	ino := Assign("foo")
	require.NoError(t, fs.resolver.Remember(ino, "foo"))

	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.InodeID(ino)}
	err := fs.GetInodeAttributes(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, uint64(len("bar")+1), op.Attributes.Size)
}

func TestGetInodeAttributesKVFallsBackToGetByIno(t *testing.T) {
	driver := newFakeDriver()
	driver.put("foo", []byte("bar"))
	fs := newTestFileSystem(t, driver)

	// Deliberately not remembered: getAttrKV must fall back to GetByIno.
	ino := Assign("foo")
	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.InodeID(ino)}
	err := fs.GetInodeAttributes(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, uint64(len("bar")+1), op.Attributes.Size)

	// The fallback remembers the association for next time.
	_, ok := fs.resolver.Resolve(ino)
	assert.True(t, ok)
}

func TestOpenDirAndReadDirRoot(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	openOp := &fuseops.OpenDirOp{Inode: RootInodeID}
	require.NoError(t, fs.OpenDir(context.Background(), openOp))

	readOp := &fuseops.ReadDirOp{Inode: RootInodeID, Offset: 0, Dst: make([]byte, 1<<16)}
	require.NoError(t, fs.ReadDir(context.Background(), readOp))
	assert.NotZero(t, readOp.BytesRead)
}

func TestOpenDirKVBuffersListing(t *testing.T) {
	driver := newFakeDriver()
	driver.put("a", []byte("1"))
	driver.put("b", []byte("2"))
	fs := newTestFileSystem(t, driver)

	openOp := &fuseops.OpenDirOp{Inode: KVDirInodeID}
	require.NoError(t, fs.OpenDir(context.Background(), openOp))

	dh, ok := fs.dirs.get(uint64(openOp.Handle))
	require.True(t, ok)
	assert.Len(t, dh.entries, 2)

	readOp := &fuseops.ReadDirOp{Inode: KVDirInodeID, Handle: openOp.Handle, Offset: 0, Dst: make([]byte, 1<<16)}
	require.NoError(t, fs.ReadDir(context.Background(), readOp))
	assert.NotZero(t, readOp.BytesRead)

	require.NoError(t, fs.ReleaseDirHandle(context.Background(), &fuseops.ReleaseDirHandleOp{Handle: openOp.Handle}))
	_, ok = fs.dirs.get(uint64(openOp.Handle))
	assert.False(t, ok)
}

func TestOpenDirKVCapsListingAtMaxResults(t *testing.T) {
	driver := newFakeDriver()
	for _, k := range []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9"} {
		driver.put(k, []byte("v"))
	}
	fs := newTestFileSystemWithConfig(t, driver, Config{Uid: 1, Gid: 1, Perm: 0444, MaxResults: 3})

	openOp := &fuseops.OpenDirOp{Inode: KVDirInodeID}
	require.NoError(t, fs.OpenDir(context.Background(), openOp))

	dh, ok := fs.dirs.get(uint64(openOp.Handle))
	require.True(t, ok)
	require.Len(t, dh.entries, 3)

	for _, e := range dh.entries {
		assert.True(t, InKVRange(uint64(e.Inode)))
		// The same name always maps to the same inode across calls.
		assert.Equal(t, Assign(e.Name), uint64(e.Inode))
	}
}

func TestOpenDirKVMaxResultsZeroListsNothing(t *testing.T) {
	driver := newFakeDriver()
	driver.put("a", []byte("1"))
	fs := newTestFileSystemWithConfig(t, driver, Config{Uid: 1, Gid: 1, Perm: 0444, MaxResults: 0})

	openOp := &fuseops.OpenDirOp{Inode: KVDirInodeID}
	require.NoError(t, fs.OpenDir(context.Background(), openOp))

	dh, ok := fs.dirs.get(uint64(openOp.Handle))
	require.True(t, ok)
	assert.Empty(t, dh.entries)
}

func TestReadDirRootOmitsRawWhenDisabled(t *testing.T) {
	fs := newTestFileSystemWithConfig(t, newFakeDriver(), Config{Uid: 1, Gid: 1, Perm: 0444, MaxResults: -1, DisableRaw: true})

	readOp := &fuseops.ReadDirOp{Inode: RootInodeID, Dst: make([]byte, 1<<16)}
	require.NoError(t, fs.ReadDir(context.Background(), readOp))

	listed := string(readOp.Dst[:readOp.BytesRead])
	assert.NotContains(t, listed, "raw")
	assert.Contains(t, listed, "lock")
	assert.Contains(t, listed, "kv")
}

func TestOpenDirUnknownInodeIsENOENT(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	err := fs.OpenDir(context.Background(), &fuseops.OpenDirOp{Inode: fuseops.InodeID(999999)})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestReadFileStatic(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	op := &fuseops.ReadFileOp{Inode: RawHelpInodeID, Offset: 0, Dst: make([]byte, 1<<16)}
	err := fs.ReadFile(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, rawHelpText, string(op.Dst[:op.BytesRead]))
}

func TestReadFileKVAppendsTrailingNewline(t *testing.T) {
	driver := newFakeDriver()
	driver.put("foo", []byte("bar"))
	fs := newTestFileSystem(t, driver)

	ino := Assign("foo")
	op := &fuseops.ReadFileOp{Inode: fuseops.InodeID(ino), Offset: 0, Dst: make([]byte, 1<<16)}
	err := fs.ReadFile(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, "bar\n", string(op.Dst[:op.BytesRead]))
}

func TestReadFileKVMissIsENOENT(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	ino := Assign("missing")
	op := &fuseops.ReadFileOp{Inode: fuseops.InodeID(ino), Offset: 0, Dst: make([]byte, 1<<16)}
	err := fs.ReadFile(context.Background(), op)

	assert.Equal(t, fuse.ENOENT, err)
}

func TestReadFileKVPartialRead(t *testing.T) {
	driver := newFakeDriver()
	driver.put("k", []byte("abcdef"))
	fs := newTestFileSystem(t, driver)

	op := &fuseops.ReadFileOp{Inode: fuseops.InodeID(Assign("k")), Offset: 3, Dst: make([]byte, 10)}
	err := fs.ReadFile(context.Background(), op)

	require.NoError(t, err)
	assert.Equal(t, "def\n", string(op.Dst[:op.BytesRead]))
}

func TestReadFileOffsetPastEOFIsEmpty(t *testing.T) {
	driver := newFakeDriver()
	driver.put("foo", []byte("bar"))
	fs := newTestFileSystem(t, driver)

	ino := Assign("foo")
	op := &fuseops.ReadFileOp{Inode: fuseops.InodeID(ino), Offset: 100, Dst: make([]byte, 1<<16)}
	err := fs.ReadFile(context.Background(), op)

	require.NoError(t, err)
	assert.Zero(t, op.BytesRead)
}

func TestOpenFileRawRangeChecksStaticExistence(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	require.NoError(t, fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: RawHelpInodeID}))

	// A raw-range inode with no static entry behind it (reserved slot).
	err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: fuseops.InodeID(100)})
	assert.Equal(t, fuse.ENOENT, err)
}

func TestOpenFileKVRangeTrustsPriorLookup(t *testing.T) {
	fs := newTestFileSystem(t, newFakeDriver())

	err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: fuseops.InodeID(Assign("never-looked-up"))})
	assert.NoError(t, err)
}

func TestTailFromClipsToBounds(t *testing.T) {
	content := []byte("hello")

	assert.Equal(t, []byte("hello"), tailFrom(content, 0))
	assert.Equal(t, []byte("llo"), tailFrom(content, 2))
	assert.Equal(t, []byte{}, tailFrom(content, 5))
	assert.Equal(t, []byte{}, tailFrom(content, 100))
	assert.Equal(t, []byte{}, tailFrom(content, -1))
}
