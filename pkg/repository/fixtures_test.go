package repository

import (
	"os"
	"path/filepath"
	"testing"
)

// fixturePackage describes one package directory. A nil metadata pointer
// means no .metadata file is created.
type fixturePackage struct {
	platform string
	name     string
	metadata *string
}

func str(s string) *string { return &s }

var fixturePackages = []fixturePackage{
	{
		platform: "freebsd",
		name:     "simple-package",
		metadata: str(`[{"platform": "freebsd", "package": "simple-package", "version": "1.0",
			"resources": ["/freebsd/simple-package/resource-1.0.tar.gz"]}]`),
	},
	{
		platform: "freebsd",
		name:     "versioned-package",
		metadata: str(`[
			{"platform": "freebsd", "package": "versioned-package", "version": "1.0",
			 "resources": ["/freebsd/versioned-package/resource-1.0.tar.gz"]},
			{"platform": "freebsd", "package": "versioned-package", "version": "1.1", "stable": true,
			 "resources": ["/freebsd/versioned-package/resource-1.1.tar.gz",
			               "/freebsd/versioned-package/resource-1.1-extras.tar.gz"]}
		]`),
	},
	{platform: "freebsd", name: "broken-package-with-no-metadata"},
	{platform: "freebsd", name: "broken-package-with-empty-metadata", metadata: str("")},
	{platform: "freebsd", name: "broken-package-with-garbage-in-metadata", metadata: str("%%%!# zdla ~~2123")},
	{
		platform: "freebsd",
		name:     "broken-package-with-bad-records",
		metadata: str(`[{"platform": "freebsd", "version": "1.0"}]`),
	},
	{
		platform: "ubuntu",
		name:     "simple-package",
		metadata: str(`[{"platform": "ubuntu", "package": "simple-package", "version": 2.0,
			"resources": ["http://mirror.example.com/ubuntu/simple-package-2.0.zip"]}]`),
	},
}

// newFixtureRepo builds the fixture tree in a temporary directory.
func newFixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range fixturePackages {
		writePackage(t, root, p.platform, p.name, p.metadata)
	}
	// A stray file at platform level is not a platform
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("repo"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func writePackage(t *testing.T, root, platform, name string, metadata *string) {
	t.Helper()
	dir := filepath.Join(root, platform, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if metadata == nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), []byte(*metadata), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
}
