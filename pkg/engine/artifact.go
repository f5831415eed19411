package engine

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Well-known parameter keys.
const (
	// ParamPackage names the package to resolve in a repository.
	ParamPackage = "package"

	// ParamPlatform selects the repository platform. When absent, package
	// sources use the platform of the detected host OS.
	ParamPlatform = "platform"
)

// Params is a set of string attributes describing a desired install.
type Params map[string]string

// Clone returns an independent copy of the parameters.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// String renders the parameters as sorted key=value pairs.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, " ")
}

// PackageSource realizes a set of package attributes on a host.
// Implementations return classified *DeployError values so the installer can
// decide whether to fall back to the next source.
type PackageSource interface {
	// Name identifies the source in outcomes, logs and metrics.
	Name() string

	// Install resolves and retrieves the package described by attributes onto host.
	// An empty host means the local machine.
	Install(ctx context.Context, host string, attributes Params) error
}

// Artifact is a declarative description of desired software state.
type Artifact interface {
	// Name returns a human-readable identifier.
	Name() string

	// Parameters returns a copy of the construction parameters.
	Parameters() Params

	// InstallOn asks source to realize the artifact on host.
	InstallOn(ctx context.Context, host string, source PackageSource) error
}

// Product is an artifact naming a software product, e.g. "Nginx".
// Its package name defaults to the lower-cased product name.
type Product struct {
	typeName string
	params   Params
}

// NewProduct creates a product artifact. Parameters are copied; a caller
// supplied "package" wins over the default derived from typeName.
func NewProduct(typeName string, params Params) (*Product, error) {
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return nil, NewArtifactError(ErrCodeInvalidArtifact, "artifact type name is required", nil)
	}

	p := params.Clone()
	if p[ParamPackage] == "" {
		p[ParamPackage] = strings.ToLower(typeName)
	}

	return &Product{typeName: typeName, params: p}, nil
}

// Name returns the product type name.
func (p *Product) Name() string {
	return p.typeName
}

// Parameters returns a copy of the product parameters.
func (p *Product) Parameters() Params {
	return p.params.Clone()
}

// Package returns the package name the product resolves to.
func (p *Product) Package() string {
	return p.params[ParamPackage]
}

// InstallOn forwards the parameters to source. It performs no I/O itself.
func (p *Product) InstallOn(ctx context.Context, host string, source PackageSource) error {
	if source == nil {
		return NewArtifactError(ErrCodeInvalidArtifact, fmt.Sprintf("no package source given for %s", p.typeName), nil)
	}
	return source.Install(ctx, host, p.params.Clone())
}

// String implements fmt.Stringer.
func (p *Product) String() string {
	return fmt.Sprintf("%s(%s)", p.typeName, p.params)
}
