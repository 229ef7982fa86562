// Package filestore adapts internal/storage.Storage (local disk or Tencent
// COS) to the cache.FileStore contract block spill relies on (§4.E, §6
// component K). A Key's spill file lives under one object per Key.String(),
// read and written whole: blocks are fixed-size, so partial reads/writes are
// never required.
package filestore

import (
	"bytes"
	"context"
	"io"

	"github.com/rasterjit/engine/internal/storage"
	"github.com/rasterjit/engine/pkg/cache"
	"github.com/rasterjit/engine/pkg/compression"
	apperrors "github.com/rasterjit/engine/pkg/errors"
)

// Handle is the FileHandle this package hands back: just the storage key,
// since internal/storage.Storage is itself keyed by string path/object name.
type Handle struct {
	key string
}

// Store adapts a storage.Storage backend to cache.FileStore. Blocks are
// optionally compressed in memory before they cross into backend storage and
// decompressed on the way back, so the byte volume a spill actually moves can
// be smaller than the block's raw element stream.
type Store struct {
	backend storage.Storage
	ctx     context.Context
	codec   compression.Compressor
}

// New wraps backend for use as a block cache spill target. ctx bounds every
// call's lifetime (§5.NEW ambient shutdown); pass context.Background() for
// unbounded use outside of an evaluation. codec may be nil, in which case
// blocks are spilled uncompressed.
func New(backend storage.Storage, ctx context.Context, codec compression.Compressor) *Store {
	if ctx == nil {
		ctx = context.Background()
	}
	if codec == nil {
		codec = compression.NewNoOpCompressor()
	}
	return &Store{backend: backend, ctx: ctx, codec: codec}
}

func (s *Store) Open(key string) (cache.FileHandle, error) {
	return &Handle{key: "spill/" + key}, nil
}

func (s *Store) WriteBlock(handle cache.FileHandle, src []byte) error {
	h, ok := handle.(*Handle)
	if !ok {
		return apperrors.Wrap(apperrors.CodeIOError, "invalid spill handle", nil)
	}
	packed, err := s.codec.Compress(src)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "spill compress failed", err)
	}
	if err := s.backend.Upload(s.ctx, h.key, bytes.NewReader(packed)); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "spill upload failed", err)
	}
	return nil
}

func (s *Store) ReadBlock(handle cache.FileHandle, dst []byte) (int, error) {
	h, ok := handle.(*Handle)
	if !ok {
		return 0, apperrors.Wrap(apperrors.CodeIOError, "invalid spill handle", nil)
	}
	rc, err := s.backend.Download(s.ctx, h.key)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeIOError, "spill download failed", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeIOError, "spill read failed", err)
	}
	raw, err := s.codec.Decompress(buf.Bytes())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeIOError, "spill decompress failed", err)
	}
	n := copy(dst, raw)
	return n, nil
}

func (s *Store) Close(handle cache.FileHandle) error {
	h, ok := handle.(*Handle)
	if !ok {
		return nil
	}
	exists, err := s.backend.Exists(s.ctx, h.key)
	if err != nil || !exists {
		return nil
	}
	return s.backend.Delete(s.ctx, h.key)
}
