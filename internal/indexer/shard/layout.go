// Package shard names, discovers and locks the shard files of an index
// directory. Shards are numbered from 1: the first is index.txt, later ones
// index2.txt, index3.txt and so on.
package shard

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	prefix  = "index"
	suffix  = ".txt"
	pattern = prefix + "*" + suffix
)

// Path returns the file path of shard n inside dir.
func Path(dir string, n int) string {
	if n <= 1 {
		return filepath.Join(dir, prefix+suffix)
	}
	return filepath.Join(dir, prefix+strconv.Itoa(n)+suffix)
}

// Number parses the shard number out of a shard file name.
func Number(p string) (int, bool) {
	name := filepath.Base(p)
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	if digits == "" {
		return 1, true
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 2 || strconv.Itoa(n) != digits {
		return 0, false
	}
	return n, true
}

// Discover lists the shard files in dir ordered by shard number. A missing
// directory yields no shards.
func Discover(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing shards in %s: %w", dir, err)
	}
	type numbered struct {
		n    int
		path string
	}
	found := make([]numbered, 0, len(matches))
	for _, m := range matches {
		n, ok := Number(m)
		if !ok {
			continue
		}
		found = append(found, numbered{n: n, path: filepath.Join(dir, filepath.FromSlash(path.Clean(m)))})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

// Last returns the highest-numbered shard in dir and its number, or ("", 0)
// when there is none.
func Last(dir string) (string, int, error) {
	paths, err := Discover(dir)
	if err != nil || len(paths) == 0 {
		return "", 0, err
	}
	last := paths[len(paths)-1]
	n, _ := Number(last)
	return last, n, nil
}
