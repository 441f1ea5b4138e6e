package migrate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stoewer/go-strcase"
	"github.com/spf13/afero"
)

const versionLayout = "20060102150405"

var fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

const scaffold = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// Scaffold writes an empty goose migration named <version>_<snake_name>.sql
// into dir and returns its path.
func Scaffold(fsys afero.Fs, dir, name string, now time.Time) (string, error) {
	if fsys == nil || dir == "" {
		return "", fmt.Errorf("fs and dir are required")
	}
	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	target := filepath.Join(dir, now.UTC().Format(versionLayout)+"_"+slug+".sql")
	if exists, err := afero.Exists(fsys, target); err != nil {
		return "", fmt.Errorf("stat %q: %w", target, err)
	} else if exists {
		return "", fmt.Errorf("migration already exists: %s", target)
	}
	if err := afero.WriteFile(fsys, target, []byte(fmt.Sprintf(scaffold, slug)), 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", target, err)
	}
	return target, nil
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strcase.SnakeCase(strings.TrimSpace(name))) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '_' })
	return strings.Join(parts, "_")
}

// Lint checks every .sql file in dir: versioned snake_case name, a unique
// version and both goose sections. It returns the versions in order.
func Lint(fsys afero.Fs, dir string) ([]string, error) {
	if fsys == nil || dir == "" {
		return nil, fmt.Errorf("fs and dir are required")
	}
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	owners := map[string]string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(name)
		if match == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, dup := owners[match[1]]; dup {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", match[1], prev, name)
		}
		owners[match[1]] = name

		body, err := afero.ReadFile(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				return nil, fmt.Errorf("migration %q missing %q", name, marker)
			}
		}
	}

	versions := make([]string, 0, len(owners))
	for v := range owners {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}
