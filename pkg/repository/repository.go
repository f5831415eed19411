// Package repository implements the versioned package store queried by
// package sources.
//
// Packages are grouped by platform. Each package holds an ordered list of
// Versions; a query returns every Version whose attributes contain all
// requested criteria, in authoring order. The filesystem layout is
//
//	root/<platform>/<package>/.metadata
//
// where .metadata is a JSON array of flat records. A SQLite Catalog can be
// built from any Repository and answers the same queries with the same
// errors.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/deploy/pkg/engine"
)

// Repository is a read-only, queryable store of package versions.
type Repository interface {
	// Platforms lists platform ids in sorted order.
	Platforms(ctx context.Context) ([]string, error)

	// Packages lists package ids of a platform in sorted order.
	Packages(ctx context.Context, platform string) ([]string, error)

	// Query returns the versions of platform/pkg matching criteria, in
	// authoring order. No match is an empty result, not an error.
	Query(ctx context.Context, platform, pkg string, criteria Criteria) ([]Version, error)
}

func errUnknownPlatform(platform string) error {
	return engine.NewRepositoryError(engine.ErrCodeUnknownPlatform,
		fmt.Sprintf("unknown platform %q", platform), nil).
		WithPackage(platform, "")
}

func errUnknownPackage(platform, pkg string) error {
	return engine.NewRepositoryError(engine.ErrCodeUnknownPackage,
		fmt.Sprintf("unknown package %q for platform %q", pkg, platform), nil).
		WithPackage(platform, pkg)
}

func errMetadataNotFound(platform, pkg string) error {
	return engine.NewRepositoryError(engine.ErrCodeMetadataNotFound,
		fmt.Sprintf("no metadata for %s/%s", platform, pkg), nil).
		WithPackage(platform, pkg)
}

func errCorruptedMetadata(platform, pkg string, cause error) error {
	return engine.NewRepositoryError(engine.ErrCodeCorruptedMetadata,
		fmt.Sprintf("corrupted metadata for %s/%s", platform, pkg), cause).
		WithPackage(platform, pkg)
}

func errUnavailable(msg string, cause error) error {
	return engine.NewRepositoryError(engine.ErrCodeRepositoryUnavailable, msg, cause)
}

// validName rejects ids that would escape their parent directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
