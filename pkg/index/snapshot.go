package index

import (
	"fmt"
	"io"
	"os"
)

// SnapshotTo writes a consistent copy of the index to path and returns
// the new snapshot counter. The counter is bumped in the live header
// first, then the flushed file is copied, so the sibling is a consistent
// image carrying the counter it was taken at. The copy may be opened
// read-only in parallel with the live file.
func (ix *Index) SnapshotTo(path string) (uint64, error) {
	if ix.readOnly {
		return 0, ErrReadOnly
	}
	counter := ix.region.BumpSnapshotCounter()
	if err := ix.region.Sync(); err != nil {
		return 0, fmt.Errorf("index: snapshot sync: %w", err)
	}

	src, err := os.Open(ix.path)
	if err != nil {
		return 0, fmt.Errorf("index: snapshot open: %w", err)
	}
	defer src.Close()

	tmp := path + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("index: snapshot create: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("index: snapshot copy: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("index: snapshot fsync: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("index: snapshot rename: %w", err)
	}
	return counter, nil
}
