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

// Package kv defines the capability the filesystem adapter depends on to
// reach a backing key/value store, and provides Redis-backed
// implementations of it.
package kv

import "context"

// Entry is a key/value pair as returned by GetByName or GetByIno. Val is the
// raw value; the adapter is responsible for appending the trailing newline
// and for any offset/size slicing.
type Entry struct {
	Ino uint64
	Key string
	Val []byte
}

// Ref is a lightweight directory-listing item: a key name without its value.
// Inode assignment is owned by the adapter's resolver (Assign is a pure
// function of the key alone), not by the driver, so Ref carries no inode.
type Ref struct {
	Key string
}

// Reader is the capability the adapter depends on. Every method's error
// return is opaque to the adapter: only the distinction between "error" and
// "absent" (nil, nil) matters, and errors are converted to EAGAIN at the
// adapter's callback boundary.
//
// A nil Entry/nil error pair means "not found"; a non-nil error means a
// transient failure, not a resolved absence.
type Reader interface {
	// GetByName fetches the value for name. The returned Entry, if any,
	// carries ino as given by the caller -- the driver does not mint inodes.
	// Implementations may persist the (ino, name) association as a side
	// effect, but are not required to.
	GetByName(ctx context.Context, name string, ino uint64) (*Entry, error)

	// GetByIno fetches a value given only its inode, consulting the driver's
	// own reverse mapping if it has one. A driver with no such mapping may
	// always return (nil, nil); the adapter falls back to its in-process
	// resolver in that case.
	GetByIno(ctx context.Context, ino uint64) (*Entry, error)

	// ListKeys returns a finite sequence of key references. offset is
	// advisory: a driver with no stable cursor concept may ignore it. The
	// sequence is not restartable within a single call; callers that need to
	// resume across multiple ReadDir invocations must buffer the result.
	ListKeys(ctx context.Context, offset int64) ([]Ref, error)

	// Read returns the full value for ino, or (nil, nil) if the driver has no
	// key for it. The adapter passes only ino, fh and offset; the bundled
	// Redis drivers find the key through the reverse hash a prior GetByName
	// hit wrote. Range slicing against offset is the adapter's
	// responsibility; Read always returns the complete value.
	Read(ctx context.Context, ino uint64, fh uint64, offset int64) ([]byte, error)
}
