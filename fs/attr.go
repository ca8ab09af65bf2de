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

	"github.com/jacobsa/fuse/fuseops"
)

// attrFactory builds fuseops.InodeAttributes for every node in the mount.
// Every field that isn't size or kind is drawn from the mount's Config and is
// identical across every node; the factory exists mainly so that invariant is
// enforced in one place and so timestamps are captured once, at mount start,
// rather than recomputed on every callback.
type attrFactory struct {
	uid, gid  uint32
	filePerm  os.FileMode
	dirPerm   os.FileMode
	mountTime time.Time
}

func newAttrFactory(cfg Config) *attrFactory {
	return &attrFactory{
		uid:       cfg.Uid,
		gid:       cfg.Gid,
		filePerm:  cfg.Perm,
		dirPerm:   cfg.Perm | os.ModeDir,
		mountTime: time.Now(),
	}
}

// forFile builds the attributes for a regular file of the given size.
func (f *attrFactory) forFile(size uint64) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   size,
		Nlink:  1,
		Mode:   f.filePerm,
		Atime:  f.mountTime,
		Mtime:  f.mountTime,
		Ctime:  f.mountTime,
		Crtime: f.mountTime,
		Uid:    f.uid,
		Gid:    f.gid,
	}
}

// forDir builds the attributes for a directory. Directories always report
// size zero; listings are generated on demand, not stored.
func (f *attrFactory) forDir() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   0,
		Nlink:  1,
		Mode:   f.dirPerm,
		Atime:  f.mountTime,
		Mtime:  f.mountTime,
		Ctime:  f.mountTime,
		Crtime: f.mountTime,
		Uid:    f.uid,
		Gid:    f.gid,
	}
}

// kvFileSize is the reported size of a KV-backed file: the value's length
// plus one, since every read reply appends a trailing newline.
func kvFileSize(value []byte) uint64 {
	return uint64(len(value)) + 1
}
