// Package datahash computes the per-problem data manifest: a mapping from
// filename to SHA-1 digest for every regular file directly inside a
// problem's data directory (spec.md §4.3).
package datahash

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Digest is a SHA-1 digest, kept as a fixed-size array so manifests can be
// compared and copied by value.
type Digest [20]byte

// String renders the digest as lowercase hex, the form sent on the wire.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// Manifest enumerates the regular files directly inside dir (no recursion)
// and returns their SHA-1 digests keyed by filename. Symbolic links and
// subdirectories are skipped.
//
// The original implementation this is modeled on called a filesystem-type
// check with a missing argument — clearly a bug (spec.md §9's Open
// Question). The intent, which this follows, is to test whether each
// enumerated entry is a regular file: os.DirEntry.Type().IsRegular() does
// exactly that without following symlinks, so a symlink to a regular file
// is correctly skipped rather than hashed.
func Manifest(dir string) (map[string]Digest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("datahash: read dir %s: %w", dir, err)
	}

	out := make(map[string]Digest, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		d, err := hashFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("datahash: hash %s: %w", entry.Name(), err)
		}
		out[entry.Name()] = d
	}
	return out, nil
}

func hashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, err
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}
