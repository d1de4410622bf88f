package payloads

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/osbuild/installer-core/internal/installerrors"
)

const (
	downloadSubdir = "dnf.package.cache"
	// downloadReserve is the share of free space kept on top of the
	// download size.
	downloadReserve = 0.1
)

func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// pickDownloadLocation returns a directory in the first of locations with
// enough free space for size bytes.
func pickDownloadLocation(locations []string, size uint64) (string, error) {
	needed := size + uint64(float64(size)*downloadReserve)
	for _, l := range locations {
		free, err := freeSpace(l)
		if err != nil {
			logrus.Debugf("skipping download location %s: %v", l, err)
			continue
		}
		if free < needed {
			logrus.Debugf("skipping download location %s: %d bytes free, %d needed", l, free, needed)
			continue
		}
		return filepath.Join(l, downloadSubdir), nil
	}
	return "", installerrors.Installation("not enough space to download %d bytes of packages", size)
}
