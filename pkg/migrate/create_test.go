package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"go.uber.org/multierr"
)

func TestCreateBumpsVersionPastNewestFile(t *testing.T) {
	dir := t.TempDir()
	newest := "20260901090800_create_billing.sql"
	if err := os.WriteFile(filepath.Join(dir, newest), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clockBehind := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	path, err := createAt(dir, "Add Post Thumbnails!", clockBehind)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := filepath.Base(path); got != "20260901090801_add_post_thumbnails.sql" {
		t.Fatalf("unexpected file %s", got)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration must validate: %v", err)
	}
}

func TestCreateRejectsReusedName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if _, err := createAt(dir, "add_quota", now); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := createAt(dir, "Add Quota", now.Add(time.Minute)); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
	if _, err := createAt(dir, "!!!", now); err == nil {
		t.Fatal("expected empty slug to be rejected")
	}
}

func TestValidateFSCollectsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101000000_wallets.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_holds.sql":   {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260102000000_wallets.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260103000000_jobs.sql":    {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n")},
		"20261399000000_posts.sql":   {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"create_automations.sql":     {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260104000000_ignored.txt": {Data: []byte("not sql")},
	}

	err := ValidateFS(fsys)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	errs := multierr.Errors(err)
	if len(errs) != 6 {
		t.Fatalf("expected 6 problems, got %d: %v", len(errs), err)
	}
	for _, want := range []string{"version 20260101000000", `name "wallets"`, "missing \"-- +goose Down\"", "StatementBegin", "expected YYYYMMDDHHMMSS_name.sql", "invalid version"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := ValidateFS(Embedded()); err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := ParseVersion("20260901090000"); err != nil || v != 20260901090000 {
		t.Fatalf("unexpected %d %v", v, err)
	}
	for _, bad := range []string{"", "2026", "20261301000000", "abcdefghijklmn"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
