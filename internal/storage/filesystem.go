package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/pkg/crypto"
)

// FSConfig configures a filesystem backend.
type FSConfig struct {
	// Root is the directory blobs are published under.
	Root string

	// Algorithm determines which ids are accepted.
	Algorithm crypto.Algorithm

	// DirPerm and FilePerm are applied to created directories and blobs.
	DirPerm  os.FileMode
	FilePerm os.FileMode
}

// FSBackend stores blobs as files in a sharded directory tree.
type FSBackend struct {
	layout   Layout
	algo     crypto.Algorithm
	dirPerm  os.FileMode
	filePerm os.FileMode
	logger   zerolog.Logger
}

// NewFSBackend creates the root and staging directories and returns a backend.
func NewFSBackend(cfg FSConfig, logger zerolog.Logger) (*FSBackend, error) {
	if cfg.Root == "" {
		return nil, errors.New("storage root is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = crypto.SHA256
	}
	if cfg.DirPerm == 0 {
		cfg.DirPerm = 0o755
	}
	if cfg.FilePerm == 0 {
		cfg.FilePerm = 0o644
	}

	b := &FSBackend{
		layout:   DefaultLayout(cfg.Root),
		algo:     cfg.Algorithm,
		dirPerm:  cfg.DirPerm,
		filePerm: cfg.FilePerm,
		logger:   logger.With().Str("component", "blobstore").Str("root", cfg.Root).Logger(),
	}

	if err := os.MkdirAll(b.layout.StagingDir(), b.dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	return b, nil
}

func (b *FSBackend) validate(id string) error {
	if !b.algo.Valid(id) {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, id)
	}
	return nil
}

// GetPath returns the path of the blob file for id.
func (b *FSBackend) GetPath(id string) string {
	return b.layout.Path(id)
}

// Exists reports whether the blob is present.
func (b *FSBackend) Exists(ctx context.Context, id string) (bool, error) {
	if err := b.validate(id); err != nil {
		return false, err
	}
	_, err := os.Stat(b.layout.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

// Put stores r under id unless id is already present.
func (b *FSBackend) Put(ctx context.Context, id string, r io.Reader) error {
	if err := b.validate(id); err != nil {
		return err
	}

	present, err := b.touch(b.layout.Path(id))
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	st, err := b.NewStaging(ctx)
	if err != nil {
		return err
	}
	defer st.Discard()

	if _, err := io.Copy(st, r); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return st.Commit(id)
}

// Open returns the blob file. The returned value is an *os.File and can be
// used as an io.ReadSeeker.
func (b *FSBackend) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := b.validate(id); err != nil {
		return nil, err
	}
	f, err := os.Open(b.layout.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Stat returns size and modification time of a blob.
func (b *FSBackend) Stat(ctx context.Context, id string) (BlobInfo, error) {
	if err := b.validate(id); err != nil {
		return BlobInfo{}, err
	}
	fi, err := os.Stat(b.layout.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return BlobInfo{}, ErrBlobNotFound
		}
		return BlobInfo{}, fmt.Errorf("failed to stat blob: %w", err)
	}
	return BlobInfo{ID: id, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Delete removes a blob and prunes empty shard directories.
func (b *FSBackend) Delete(ctx context.Context, id string) error {
	if err := b.validate(id); err != nil {
		return err
	}
	if err := os.Remove(b.layout.Path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	b.pruneShard(id)
	return nil
}

// Reclaim removes a blob unless keep, asked once the blob is out of the
// published tree, still wants it.
func (b *FSBackend) Reclaim(ctx context.Context, id string, keep func(BlobInfo) (bool, error)) (bool, error) {
	if err := b.validate(id); err != nil {
		return false, err
	}
	if err := os.MkdirAll(b.layout.ReclaimDir(), b.dirPerm); err != nil {
		return false, fmt.Errorf("failed to create reclaim directory: %w", err)
	}

	final := b.layout.Path(id)
	held := filepath.Join(b.layout.ReclaimDir(), id+"."+uuid.NewString())
	if err := os.Rename(final, held); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, ErrBlobNotFound
		}
		return false, fmt.Errorf("failed to reclaim blob: %w", err)
	}

	// From here a writer of id either refreshed the file before the rename
	// (recent ModTime) or finds it missing and publishes its own copy.
	fi, err := os.Stat(held)
	if err != nil {
		return false, errors.Join(fmt.Errorf("failed to stat reclaimed blob: %w", err), b.restore(held, final))
	}

	wanted, err := keep(BlobInfo{ID: id, Size: fi.Size(), ModTime: fi.ModTime()})
	if err != nil || wanted {
		if rerr := b.restore(held, final); rerr != nil {
			return false, errors.Join(err, rerr)
		}
		return false, err
	}

	if err := os.Remove(held); err != nil {
		return false, fmt.Errorf("failed to delete blob: %w", err)
	}
	b.pruneShard(id)
	return true, nil
}

// restore puts a reclaimed blob back. A copy republished in the meantime has
// identical bytes, so replacing it is harmless.
func (b *FSBackend) restore(held, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), b.dirPerm); err != nil {
		return fmt.Errorf("failed to restore blob: %w", err)
	}
	if err := os.Rename(held, final); err != nil {
		return fmt.Errorf("failed to restore blob: %w", err)
	}
	return nil
}

// touch refreshes the modification time of an existing blob. It reports
// false when there is no file at path.
func (b *FSBackend) touch(path string) (bool, error) {
	now := time.Now()
	err := os.Chtimes(path, now, now)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to touch blob: %w", err)
}

// pruneShard removes the shard directories of id once they are empty.
func (b *FSBackend) pruneShard(id string) {
	// Fails harmlessly while the directory still has entries.
	dir := b.layout.Dir(id)
	for dir != b.layout.Root && dir != filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// List walks the tree and returns every published blob.
func (b *FSBackend) List(ctx context.Context) ([]BlobInfo, error) {
	var blobs []BlobInfo
	staging := b.layout.StagingDir()
	reclaim := b.layout.ReclaimDir()

	err := filepath.WalkDir(b.layout.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path == staging || path == reclaim {
				return filepath.SkipDir
			}
			return nil
		}
		if !b.algo.Valid(d.Name()) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		blobs = append(blobs, BlobInfo{ID: d.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return blobs, nil
}

// NewStaging creates a uniquely named file in the staging directory.
func (b *FSBackend) NewStaging(ctx context.Context) (Staging, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(b.layout.StagingDir(), uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, b.filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return &fsStaging{backend: b, file: f, path: path}, nil
}

// PurgeStaging removes staging files older than maxAge.
func (b *FSBackend) PurgeStaging(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.layout.StagingDir())
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.layout.StagingDir(), e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// fsStaging is a staging file owned by a single writer.
type fsStaging struct {
	backend *FSBackend
	file    *os.File
	path    string
	closed  bool
}

func (s *fsStaging) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStagingClosed
	}
	return s.file.Write(p)
}

func (s *fsStaging) Commit(id string) error {
	if s.closed {
		return ErrStagingClosed
	}
	if err := s.backend.validate(id); err != nil {
		return err
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	s.closed = true

	final := s.backend.layout.Path(id)
	present, err := s.backend.touch(final)
	if err != nil || present {
		os.Remove(s.path)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(final), s.backend.dirPerm); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	// Concurrent commits of the same id rename identical bytes; last one wins.
	if err := os.Rename(s.path, final); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("failed to publish blob: %w", err)
	}

	s.backend.logger.Debug().Str("id", id).Msg("published blob")
	return nil
}

func (s *fsStaging) Discard() error {
	if s.closed {
		// Commit already moved or removed the file.
		return nil
	}
	s.closed = true
	s.file.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	return nil
}

var _ Backend = (*FSBackend)(nil)
