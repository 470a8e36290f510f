package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/pkg/errors"
)

// WriteFile atomically replaces the shard at path with the encoding of
// store. It writes to a .tmp file first and renames on success, so readers
// see either the old shard or the new one. It returns the size written.
func WriteFile(path string, store *index.Store) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("creating shard directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp shard file: %w", err)
	}
	if err := Encode(f, store); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing shard: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("stat shard: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing shard: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming shard: %w", err)
	}
	return info.Size(), nil
}

// ReadFile loads the shard at path. A missing file yields a
// ShardNotFoundError.
func ReadFile(path string) (*index.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &apperrors.ShardNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("opening shard: %w", err)
	}
	defer f.Close()
	store, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return store, nil
}

// Size returns the on-disk size of the shard at path, or zero when it does
// not exist.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}
