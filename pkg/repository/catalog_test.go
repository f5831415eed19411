package repository

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/openfroyo/deploy/pkg/engine"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalogImportStats(t *testing.T) {
	c := newTestCatalog(t)
	stats, err := c.Import(context.Background(), NewFilesystem(newFixtureRepo(t)))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	want := &ImportStats{Platforms: 2, Packages: 7, Versions: 4, Broken: 4}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("Import() stats = %+v, want %+v", stats, want)
	}
}

// TestCatalogParity asserts the catalog answers every query exactly like the
// filesystem repository it was imported from.
func TestCatalogParity(t *testing.T) {
	ctx := context.Background()
	fsRepo := NewFilesystem(newFixtureRepo(t))
	c := newTestCatalog(t)
	if _, err := c.Import(ctx, fsRepo); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	fsPlatforms, _ := fsRepo.Platforms(ctx)
	catPlatforms, err := c.Platforms(ctx)
	if err != nil || !reflect.DeepEqual(fsPlatforms, catPlatforms) {
		t.Fatalf("Platforms() = %v, %v, want %v", catPlatforms, err, fsPlatforms)
	}

	queries := []struct {
		platform string
		pkg      string
		criteria Criteria
	}{
		{"freebsd", "simple-package", nil},
		{"freebsd", "versioned-package", nil},
		{"freebsd", "versioned-package", Criteria{"version": "1.1"}},
		{"freebsd", "versioned-package", Criteria{"stable": "true"}},
		{"freebsd", "versioned-package", Criteria{"version": "7"}},
		{"freebsd", "broken-package-with-no-metadata", nil},
		{"freebsd", "broken-package-with-empty-metadata", nil},
		{"freebsd", "broken-package-with-garbage-in-metadata", nil},
		{"freebsd", "broken-package-with-bad-records", nil},
		{"freebsd", "no-such-package", nil},
		{"solaris", "simple-package", nil},
		{"ubuntu", "simple-package", Criteria{"version": "2.0"}},
	}

	for _, q := range queries {
		t.Run(q.platform+"/"+q.pkg, func(t *testing.T) {
			want, wantErr := fsRepo.Query(ctx, q.platform, q.pkg, q.criteria)
			got, gotErr := c.Query(ctx, q.platform, q.pkg, q.criteria)

			if (wantErr == nil) != (gotErr == nil) {
				t.Fatalf("error mismatch: catalog %v, filesystem %v", gotErr, wantErr)
			}
			if wantErr != nil {
				var fsErr *engine.DeployError
				if !errors.As(wantErr, &fsErr) || !errors.Is(gotErr, fsErr) {
					t.Errorf("catalog error = %v, want same class/code as %v", gotErr, wantErr)
				}
				return
			}

			if len(got) != len(want) {
				t.Fatalf("catalog returned %d versions, filesystem %d", len(got), len(want))
			}
			for i := range want {
				if !got[i].Equal(want[i]) {
					t.Errorf("version %d: catalog %v, filesystem %v", i, got[i].Attributes(), want[i].Attributes())
				}
			}
		})
	}

	for _, platform := range []string{"freebsd", "ubuntu", "solaris"} {
		want, wantErr := fsRepo.Packages(ctx, platform)
		got, gotErr := c.Packages(ctx, platform)
		if !reflect.DeepEqual(got, want) || (wantErr == nil) != (gotErr == nil) {
			t.Errorf("Packages(%s) = %v, %v, want %v, %v", platform, got, gotErr, want, wantErr)
		}
	}
}

func TestCatalogReimportReplaces(t *testing.T) {
	ctx := context.Background()
	root := newFixtureRepo(t)
	c := newTestCatalog(t)

	if _, err := c.Import(ctx, NewFilesystem(root)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	writePackage(t, root, "freebsd", "simple-package", str(`[
		{"platform": "freebsd", "package": "simple-package", "version": "3.0", "resources": []}
	]`))
	if _, err := c.Import(ctx, NewFilesystem(root)); err != nil {
		t.Fatalf("second Import() error = %v", err)
	}

	got, err := c.Query(ctx, "freebsd", "simple-package", nil)
	if err != nil || len(got) != 1 {
		t.Fatalf("Query() = %v, %v", got, err)
	}
	if v, _ := got[0].Get("version"); v != "3.0" {
		t.Errorf("version = %q, want 3.0", v)
	}
}

func TestCatalogReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := OpenCatalog(ctx, path)
	if err != nil {
		t.Fatalf("OpenCatalog() error = %v", err)
	}
	if _, err := c.Import(ctx, NewFilesystem(newFixtureRepo(t))); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	_ = c.Close()

	reopened, err := OpenCatalog(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Query(ctx, "freebsd", "versioned-package", nil)
	if err != nil || len(got) != 2 {
		t.Fatalf("Query() after reopen = %v, %v", got, err)
	}
}

func TestOpenCatalogRequiresPath(t *testing.T) {
	if _, err := OpenCatalog(context.Background(), ""); err == nil {
		t.Error("OpenCatalog(\"\") should fail")
	}
}
