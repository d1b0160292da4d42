package codec

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alexvasilkov/inflow-go/core/contract"
)

// FileCache is a local-disk contract.CacheStream/contract.CacheWriter,
// for single-process deployments or smoke tests that don't need a
// shared backing store. Writes are saved atomically (write-then-rename)
// the way a local JSON-file store would be.
type FileCache[T any] struct {
	Path         string
	Codec        Codec
	PollInterval time.Duration
}

// Write marshals value through Codec and atomically replaces Path's
// contents.
func (f FileCache[T]) Write(ctx context.Context, value T) error {
	data, err := f.Codec.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "filecache: marshal")
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "filecache: write %q", tmp)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return errors.Wrapf(err, "filecache: rename to %q", f.Path)
	}
	return nil
}

// Subscribe emits the file's current contents, then polls its mtime at
// PollInterval (default one second) and re-emits on every change, until
// ctx is cancelled. A missing file is treated as "not yet written":
// Subscribe emits the zero value rather than failing.
func (f FileCache[T]) Subscribe(ctx context.Context, emit func(T) error) error {
	interval := f.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return errors.Wrapf(err, "filecache: mkdir for %q", f.Path)
	}

	var lastMod time.Time
	read := func() (T, bool, error) {
		var zero T
		data, err := os.ReadFile(f.Path)
		if errors.Is(err, os.ErrNotExist) {
			return zero, false, nil
		}
		if err != nil {
			return zero, false, err
		}
		var v T
		if err := f.Codec.Unmarshal(data, &v); err != nil {
			return zero, false, err
		}
		return v, true, nil
	}

	v, _, err := read()
	if err != nil {
		return err
	}
	if st, statErr := os.Stat(f.Path); statErr == nil {
		lastMod = st.ModTime()
	}
	if err := emit(v); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st, err := os.Stat(f.Path)
			if err != nil {
				continue
			}
			if !st.ModTime().After(lastMod) {
				continue
			}
			lastMod = st.ModTime()
			v, ok, err := read()
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := emit(v); err != nil {
				return err
			}
		}
	}
}

var (
	_ contract.CacheStream[int] = FileCache[int]{}
	_ contract.CacheWriter[int] = FileCache[int]{}
)
