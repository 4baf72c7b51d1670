package foldersync

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

var ErrBadManifest = errors.New("foldersync: bad manifest")

// Manifest maps file names to lowercase hex MD5 digests. Order is the
// sequence bodies go out in.
type Manifest struct {
	Sums  map[string]string
	Order []string
}

// Diff lists the names that differ between two manifests.
type Diff struct {
	Added   []string
	Changed []string
	Removed []string
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// BuildManifest hashes every regular file directly inside dir.
// Subdirectories are skipped.
func BuildManifest(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, fmt.Errorf("foldersync: read %s: %w", dir, err)
	}
	m := Manifest{Sums: make(map[string]string)}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		sum, err := fileMD5(filepath.Join(dir, e.Name()))
		if err != nil {
			return Manifest{}, err
		}
		m.Sums[e.Name()] = sum
		m.Order = append(m.Order, e.Name())
	}
	sort.Strings(m.Order)
	return m, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("foldersync: open %s: %w", path, err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("foldersync: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MarshalJSON renders the manifest as a single flat object.
func (m Manifest) MarshalJSON() ([]byte, error) {
	if m.Sums == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.Sums)
}

// ParseManifest reads a manifest object. Order follows sorted names.
func ParseManifest(data []byte) (Manifest, error) {
	sums := make(map[string]string)
	if err := json.Unmarshal(data, &sums); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	m := Manifest{Sums: sums, Order: make([]string, 0, len(sums))}
	for name, sum := range sums {
		if _, err := hex.DecodeString(sum); err != nil || len(sum) != md5.Size*2 {
			return Manifest{}, fmt.Errorf("%w: %q has digest %q", ErrBadManifest, name, sum)
		}
		m.Order = append(m.Order, name)
	}
	sort.Strings(m.Order)
	return m, nil
}

// Diff compares m against a previous manifest.
func (m Manifest) Diff(prev Manifest) Diff {
	var d Diff
	for _, name := range m.Order {
		old, ok := prev.Sums[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case old != m.Sums[name]:
			d.Changed = append(d.Changed, name)
		}
	}
	for _, name := range prev.Order {
		if _, ok := m.Sums[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}
