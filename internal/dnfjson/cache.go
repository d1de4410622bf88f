package dnfjson

import (
	"os"
	"path/filepath"
)

type rpmCache struct {
	// root path for the cache
	root string
}

func newRPMCache(path string) *rpmCache {
	return &rpmCache{
		root: path,
	}
}

// clear empties the cache but keeps its root.
func (r *rpmCache) clear() error {
	if r.root == "" {
		return nil
	}
	return removeContents(r.root)
}

func removeContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
