package index

import (
	"fmt"
	"io"
	"os"

	"github.com/genomewalker/chitta/pkg/mmapfile"
)

// Version upgrade chain. A file with an older format version is upgraded
// in place, one step at a time, after a .backup sibling of the original
// is written. A file with a newer version never opens here; Open returns
// ErrIncompatibleVersion before reaching this path.
//
// History:
//
//	v1  original layout without the reserved nil arena slot
//	v2  arena offset 0 reserved; snapshot counter field unused
//	v3  snapshot counter live in the region header (current)
var upgrades = map[uint32]func(*mmapfile.Region) error{
	1: upgradeV1toV2,
	2: upgradeV2toV3,
}

// upgrade walks the chain from the file's stored version to the current
// one, writing a backup of the original bytes first.
func upgrade(region *mmapfile.Region, path string) error {
	if err := writeBackup(path); err != nil {
		return err
	}
	for v := region.Version(); v < FormatVersion; v = region.Version() {
		step, ok := upgrades[v]
		if !ok {
			return fmt.Errorf("%w: no upgrade from version %d", mmapfile.ErrIncompatibleVersion, v)
		}
		if err := step(region); err != nil {
			return fmt.Errorf("index: upgrade from version %d: %w", v, err)
		}
		region.SetVersion(v + 1)
	}
	return region.Sync()
}

func writeBackup(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("index: backup open: %w", err)
	}
	defer src.Close()
	dst, err := os.OpenFile(path+".backup", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("index: backup create: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("index: backup copy: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// upgradeV1toV2 reserves arena offset 0 as the nil marker. Logical
// content is unchanged: v1 never allocated at offset 0 in practice, so
// only the used watermark needs a floor.
func upgradeV1toV2(region *mmapfile.Region) error {
	h := header{b: region.Data()[:indexHeaderSize]}
	if h.arenaUsed() < 8 {
		h.setArenaUsed(8)
	}
	return nil
}

// upgradeV2toV3 moves the snapshot counter into the region header. v2
// files never recorded a counter, so it starts at zero; the field itself
// already exists in the header layout.
func upgradeV2toV3(region *mmapfile.Region) error {
	return nil
}
