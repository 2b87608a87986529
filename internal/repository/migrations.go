package repository

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Migration is a versioned schema change read from an embedded directory.
// Files are named NNNNNN_description.up.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus reports the schema version of a database.
type MigrationStatus struct {
	Current int
	Latest  int
	Pending []Migration
}

// LoadMigrations reads every *.up.sql file in dir, sorted by version.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		prefix, desc, ok := strings.Cut(strings.TrimSuffix(name, ".up.sql"), "_")
		if !ok {
			return nil, fmt.Errorf("malformed migration file name %q", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version < 1 {
			return nil, fmt.Errorf("malformed migration version in %q", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, other, name)
		}
		seen[version] = name

		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: desc, SQL: string(data)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// PendingAfter returns the migrations newer than version.
func PendingAfter(all []Migration, version int) MigrationStatus {
	status := MigrationStatus{Current: version}
	for _, m := range all {
		if m.Version > status.Latest {
			status.Latest = m.Version
		}
		if m.Version > version {
			status.Pending = append(status.Pending, m)
		}
	}
	if status.Latest < version {
		status.Latest = version
	}
	return status
}
