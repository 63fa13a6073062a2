package storage

import "path/filepath"

// Lake resolves the layer directories of the local data lake.
type Lake struct {
	Root string
}

// NewLake returns a lake rooted at an absolute version of root.
func NewLake(root string) Lake {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return Lake{Root: root}
}

func (l Lake) Bronze() string { return filepath.Join(l.Root, "bronze") }
func (l Lake) Silver() string { return filepath.Join(l.Root, "silver") }
func (l Lake) Gold() string   { return filepath.Join(l.Root, "gold") }
func (l Lake) Models() string { return filepath.Join(l.Root, "models") }
