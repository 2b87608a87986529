package storage

import (
	"path/filepath"
)

// stagingDirName is the directory under the root holding in-flight writes.
const stagingDirName = ".staging"

// reclaimDirName holds blobs pulled out of the tree while a deletion is decided.
const reclaimDirName = ".reclaim"

// Layout maps blob ids to sharded paths under a root directory.
//
// With the default two levels of two characters:
//
//	id:   "abcdef1234..."
//	root: "/data"
//	path: "/data/ab/cd/abcdef1234..."
type Layout struct {
	// Root is the base directory.
	Root string

	// ShardLevels is the number of directory levels.
	ShardLevels int

	// ShardWidth is the number of id characters per level.
	ShardWidth int
}

// DefaultLayout returns a two level, two character layout rooted at root.
func DefaultLayout(root string) Layout {
	return Layout{
		Root:        root,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// Dir returns the shard directory holding id.
func (l Layout) Dir(id string) string {
	if len(id) < l.ShardLevels*l.ShardWidth {
		return l.Root
	}

	components := make([]string, 0, l.ShardLevels+1)
	components = append(components, l.Root)
	for i := 0; i < l.ShardLevels; i++ {
		components = append(components, id[i*l.ShardWidth:(i+1)*l.ShardWidth])
	}
	return filepath.Join(components...)
}

// Path returns the full path of the blob file for id.
func (l Layout) Path(id string) string {
	return filepath.Join(l.Dir(id), id)
}

// StagingDir returns the directory holding staging files.
func (l Layout) StagingDir() string {
	return filepath.Join(l.Root, stagingDirName)
}

// ReclaimDir returns the directory holding blobs that are being reclaimed.
func (l Layout) ReclaimDir() string {
	return filepath.Join(l.Root, reclaimDirName)
}
