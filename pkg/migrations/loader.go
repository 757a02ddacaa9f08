// Package migrations loads and applies versioned SQL migrations.
package migrations

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Direction is "up" or "down".
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migration represents a database migration file.
type Migration struct {
	Version   string
	Name      string
	Direction Direction
	Path      string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// Load returns the migrations of one direction found in fsys, sorted by version.
// Files are named 000001_name.up.sql / 000001_name.down.sql.
func Load(fsys fs.FS, direction Direction) ([]Migration, error) {
	suffix := fmt.Sprintf(".%s.sql", direction)
	var out []Migration
	seen := make(map[string]string)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, suffix) {
			return nil
		}

		base := strings.TrimSuffix(path.Base(p), suffix)
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" || name == "" {
			return nil
		}
		if prev, dup := seen[version]; dup {
			return fmt.Errorf("duplicate migration version %s: %s and %s", version, prev, p)
		}
		seen[version] = p

		out = append(out, Migration{
			Version:   version,
			Name:      name,
			Direction: direction,
			Path:      p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Versions returns the versions of a list.
func Versions(migrations []Migration) []string {
	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	return versions
}
