package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)

// ValidateDir checks the migrations directory on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("migrations dir: %w", err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS reports every problem in the migration set at once: bad file
// names, reused versions or names, missing goose sections, and unbalanced
// StatementBegin/StatementEnd markers.
func ValidateFS(fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	var errs error
	versions := map[string]string{}
	slugs := map[string]string{}
	for _, name := range names {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		version, slug := m[1], m[2]
		if _, err := ParseVersion(version); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if prev, ok := versions[version]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, version, prev))
		}
		versions[version] = name
		if prev, ok := slugs[slug]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: name %q already used by %s", name, slug, prev))
		}
		slugs[slug] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, checkBody(name, string(body)))
	}
	return errs
}

func checkBody(name, body string) error {
	var errs error
	up := strings.Index(body, "-- +goose Up")
	down := strings.Index(body, "-- +goose Down")
	if up < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s: missing \"-- +goose Up\"", name))
	}
	if down < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s: missing \"-- +goose Down\"", name))
	}
	if up >= 0 && down >= 0 && down < up {
		errs = multierr.Append(errs, fmt.Errorf("%s: Down section precedes Up", name))
	}
	begins := strings.Count(body, "-- +goose StatementBegin")
	ends := strings.Count(body, "-- +goose StatementEnd")
	if begins != ends {
		errs = multierr.Append(errs, fmt.Errorf("%s: %d StatementBegin but %d StatementEnd", name, begins, ends))
	}
	return errs
}
