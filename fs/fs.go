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

// Package fs implements the FUSE adapter: the translation layer between
// kernel callbacks and a kv.Reader backing store. See fs/fs.go,
// fs/resolver.go, fs/static.go and fs/attr.go for the four components this
// splits into.
package fs

import (
	"context"
	"syscall"
	"unicode/utf8"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/roganartu/fusedis/internal/logger"
	"github.com/roganartu/fusedis/kv"
)

// errAgain is the single transient-error value the adapter ever returns.
// syscall.Errno already satisfies error, so no wrapping type is needed; the
// jacobsa/fuse generation this repo is built against exports fuse.ENOENT but
// no equivalent EAGAIN constant, so we use the stdlib errno directly.
var errAgain error = syscall.EAGAIN

// NewServer builds a fuse.Server that answers kernel callbacks against
// driver, per cfg. It never touches the driver before the first callback:
// driver handshake, if any, is the caller's responsibility (see
// cmd/fusedis), consistent with this package only producing ENOENT/EAGAIN,
// never a fatal error.
func NewServer(cfg Config, driver kv.Reader, log *logger.Logger) (fuse.Server, error) {
	attrs := newAttrFactory(cfg)

	fsys := &fileSystem{
		NotImplementedFileSystem: fuseutil.NotImplementedFileSystem{},
		cfg:                      cfg,
		driver:                   driver,
		resolver:                 NewResolver(cfg.ResolverCacheSize, cfg.ResolverLockWait),
		static:                   newStaticTree(cfg, attrs),
		attrs:                    attrs,
		dirs:                     newDirHandles(),
		log:                      log,
	}

	return fuseutil.NewFileSystemServer(fsys), nil
}

// fileSystem is the fuseutil.FileSystem implementation. It holds no
// authoritative state of its own beyond the resolver cache and open
// directory handles -- the static tree is immutable after construction and
// the data tree's source of truth is always the driver.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	cfg      Config
	driver   kv.Reader
	resolver *Resolver
	static   *staticTree
	attrs    *attrFactory
	dirs     *dirHandles
	log      *logger.Logger
}

func (fs *fileSystem) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) (err error) {
	fs.log.Tracef("lookup parent=%d name=%q", op.Parent, op.Name)

	if op.Name == "" || !utf8.ValidString(op.Name) {
		return fuse.ENOENT
	}

	parent := uint64(op.Parent)

	switch {
	case parent == RootInodeID:
		e, ok := fs.static.lookup(parent, op.Name)
		if !ok {
			return fuse.ENOENT
		}
		op.Entry.Child = fuseops.InodeID(e.ino)
		op.Entry.Attributes = e.attr
		return nil

	case parent == KVDirInodeID:
		return fs.lookUpKV(ctx, op)

	default:
		return fuse.ENOENT
	}
}

func (fs *fileSystem) lookUpKV(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	ino := Assign(op.Name)

	entry, err := fs.driver.GetByName(ctx, op.Name, ino)
	if err != nil {
		fs.log.Debugf("lookup %q: driver error: %v", op.Name, err)
		return errAgain
	}
	if entry == nil {
		return fuse.ENOENT
	}

	// The ino -> key insert must land before the reply; contention on the
	// cache lock is a transient failure, surfaced like any driver error.
	if rememberErr := fs.resolver.Remember(ino, op.Name); rememberErr != nil {
		fs.log.Debugf("lookup %q: resolver contended: %v", op.Name, rememberErr)
		return errAgain
	}

	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = fs.attrs.forFile(kvFileSize(entry.Val))
	return nil
}

func (fs *fileSystem) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	ino := uint64(op.Inode)
	fs.log.Tracef("getattr ino=%d", ino)

	switch {
	case ino == RootInodeID:
		op.Attributes = fs.attrs.forDir()
		return nil

	case InRawRange(ino):
		e, ok := fs.static.get(ino)
		if !ok {
			return fuse.ENOENT
		}
		op.Attributes = e.attr
		return nil

	case InKVRange(ino):
		return fs.getAttrKV(ctx, op, ino)

	default:
		return fuse.ENOENT
	}
}

func (fs *fileSystem) getAttrKV(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp,
	ino uint64) error {
	// Resolver-first: if we already know the name behind this inode, asking
	// the driver by name avoids depending on every driver implementing
	// GetByIno.
	if name, ok := fs.resolver.Resolve(ino); ok {
		entry, err := fs.driver.GetByName(ctx, name, ino)
		if err != nil {
			fs.log.Debugf("getattr %d: driver error: %v", ino, err)
			return errAgain
		}
		if entry == nil {
			return fuse.ENOENT
		}
		// Refresh recency; Resolve reads through Peek and leaves the LRU
		// order alone, so this is the only thing keeping hot inodes resident.
		if rememberErr := fs.resolver.Remember(ino, name); rememberErr != nil {
			fs.log.Debugf("getattr %d: resolver contended: %v", ino, rememberErr)
			return errAgain
		}
		op.Attributes = fs.attrs.forFile(kvFileSize(entry.Val))
		return nil
	}

	entry, err := fs.driver.GetByIno(ctx, ino)
	if err != nil {
		fs.log.Debugf("getattr %d: driver error: %v", ino, err)
		return errAgain
	}
	if entry == nil {
		return fuse.ENOENT
	}

	if rememberErr := fs.resolver.Remember(ino, entry.Key); rememberErr != nil {
		fs.log.Debugf("getattr %d: resolver contended: %v", ino, rememberErr)
		return errAgain
	}

	op.Attributes = fs.attrs.forFile(kvFileSize(entry.Val))
	return nil
}

func (fs *fileSystem) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	ino := uint64(op.Inode)

	switch ino {
	case RootInodeID:
		op.Handle = fuseops.HandleID(fs.dirs.open(&dirHandle{}))
		return nil

	case KVDirInodeID:
		entries, err := fs.listKV(ctx)
		if err != nil {
			return errAgain
		}
		op.Handle = fuseops.HandleID(fs.dirs.open(&dirHandle{entries: entries}))
		return nil

	default:
		return fuse.ENOENT
	}
}

// listKV fetches the driver's key listing, caps it at cfg.MaxResults,
// assigns and remembers an inode for every returned key, and renders the
// result as a ready-to-serve Dirent slice (not including the synthetic "."
// and ".." entries, which ReadDir prepends itself).
func (fs *fileSystem) listKV(ctx context.Context) ([]fuseutil.Dirent, error) {
	refs, err := fs.driver.ListKeys(ctx, 0)
	if err != nil {
		fs.log.Debugf("readdir /kv: driver error: %v", err)
		return nil, err
	}

	if fs.cfg.MaxResults >= 0 && int64(len(refs)) > fs.cfg.MaxResults {
		refs = refs[:fs.cfg.MaxResults]
	}

	entries := make([]fuseutil.Dirent, 0, len(refs))
	for i, ref := range refs {
		ino := Assign(ref.Key)
		if rememberErr := fs.resolver.Remember(ino, ref.Key); rememberErr != nil {
			fs.log.Debugf("readdir /kv: resolver contended on %q: %v", ref.Key, rememberErr)
			return nil, rememberErr
		}

		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(ino),
			Name:   ref.Key,
			Type:   fuseutil.DT_File,
		})
	}

	return entries, nil
}

func (fs *fileSystem) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	ino := uint64(op.Inode)
	fs.log.Tracef("readdir ino=%d offset=%d", ino, op.Offset)

	switch {
	case ino == RootInodeID:
		return fs.readDirRoot(op)

	case ino == KVDirInodeID:
		return fs.readDirBuffered(op)

	default:
		return fuse.ENOENT
	}
}

// syntheticEntries builds the ".." entry (always) and, for non-root
// directories, the "." entry, occupying offsets 1 and (if present) 2.
func syntheticEntries(ino uint64) []fuseutil.Dirent {
	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
	}
	if ino != RootInodeID {
		entries = append(entries, fuseutil.Dirent{
			Offset: 2, Inode: fuseops.InodeID(ino), Name: ".", Type: fuseutil.DT_Directory,
		})
	}
	return entries
}

func (fs *fileSystem) readDirRoot(op *fuseops.ReadDirOp) error {
	synthetic := syntheticEntries(RootInodeID)
	children := fs.static.children(RootInodeID)

	all := make([]fuseutil.Dirent, 0, len(synthetic)+len(children))
	all = append(all, synthetic...)
	for i, c := range children {
		all = append(all, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(synthetic) + i + 1),
			Inode:  fuseops.InodeID(c.ino),
			Name:   c.name,
			Type:   direntType(c.isDir),
		})
	}

	writeDirents(op, all)
	return nil
}

func (fs *fileSystem) readDirBuffered(op *fuseops.ReadDirOp) error {
	dh, ok := fs.dirs.get(uint64(op.Handle))
	if !ok {
		return fuse.ENOENT
	}

	synthetic := syntheticEntries(KVDirInodeID)
	all := make([]fuseutil.Dirent, 0, len(synthetic)+len(dh.entries))
	all = append(all, synthetic...)
	for _, e := range dh.entries {
		e.Offset += fuseops.DirOffset(len(synthetic))
		all = append(all, e)
	}

	writeDirents(op, all)
	return nil
}

// writeDirents renders entries[op.Offset:] into op.Dst, stopping cleanly when
// the buffer is full (WriteDirent writes nothing rather than truncating an
// entry). Entry i carries next-offset i+1, so op.Offset doubles as the index
// to resume from.
func writeDirents(op *fuseops.ReadDirOp, entries []fuseutil.Dirent) {
	for i := int(op.Offset); i < len(entries); i++ {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], entries[i])
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
}

func direntType(isDir bool) fuseutil.DirentType {
	if isDir {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

func (fs *fileSystem) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	fs.dirs.release(uint64(op.Handle))
	return nil
}

func (fs *fileSystem) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	ino := uint64(op.Inode)

	switch {
	case InRawRange(ino):
		if _, ok := fs.static.get(ino); !ok {
			return fuse.ENOENT
		}
		return nil

	case InKVRange(ino):
		// Existence was already confirmed by the LookUpInode/GetInodeAttributes
		// that necessarily preceded this open; we don't re-check the driver
		// here, matching the stateless-callback design.
		return nil

	default:
		return fuse.ENOENT
	}
}

func (fs *fileSystem) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	ino := uint64(op.Inode)
	fs.log.Tracef("read ino=%d offset=%d", ino, op.Offset)

	switch {
	case InRawRange(ino):
		return fs.readStatic(op, ino)

	case InKVRange(ino):
		return fs.readKV(ctx, op, ino)

	default:
		return fuse.ENOENT
	}
}

func (fs *fileSystem) readStatic(op *fuseops.ReadFileOp, ino uint64) error {
	e, ok := fs.static.get(ino)
	if !ok || e.content == nil {
		return fuse.ENOENT
	}

	op.BytesRead = copy(op.Dst, tailFrom(e.content, op.Offset))
	return nil
}

func (fs *fileSystem) readKV(
	ctx context.Context,
	op *fuseops.ReadFileOp,
	ino uint64) error {
	val, err := fs.driver.Read(ctx, ino, uint64(op.Handle), op.Offset)
	if err != nil {
		fs.log.Debugf("read %d: driver error: %v", ino, err)
		return errAgain
	}
	if val == nil {
		return fuse.ENOENT
	}

	// The trailing newline is part of the logical content and size reported
	// by getattr; append it before slicing by offset.
	content := append(append([]byte(nil), val...), '\n')
	op.BytesRead = copy(op.Dst, tailFrom(content, op.Offset))
	return nil
}

// tailFrom returns content[offset:]. An offset at or past the end of content
// yields an empty, non-nil slice rather than an error; the caller's copy into
// the kernel buffer clips the other end.
func tailFrom(content []byte, offset int64) []byte {
	if offset < 0 || offset >= int64(len(content)) {
		return []byte{}
	}
	return content[offset:]
}

func (fs *fileSystem) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}
