package acquire

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bodgit/sevenzip"
)

// ErrMemberNotFound is returned when the archive has no file with the requested name.
var ErrMemberNotFound = errors.New("archive member not found")

// Extract copies the file named member out of the 7z archive at archivePath
// into dest. member matches either the full path inside the archive or its
// base name.
func Extract(archivePath, member, dest string) (int64, error) {
	r, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	var file *sevenzip.File
	for _, f := range r.File {
		if f.Name == member || path.Base(f.Name) == member {
			file = f
			break
		}
	}
	if file == nil {
		return 0, fmt.Errorf("%w: %s in %s", ErrMemberNotFound, member, archivePath)
	}

	rc, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", member, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("create raw dir: %w", err)
	}
	n, err := writeAtomic(dest, rc)
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", member, err)
	}
	return n, nil
}
