package repository

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
)

// Reserved attribute names.
const (
	AttrPlatform  = "platform"
	AttrPackage   = "package"
	AttrResources = "resources"
)

// Criteria maps attribute names to required values.
type Criteria map[string]string

// Version is one concrete release of a package: a flat set of string
// attributes plus an ordered list of resource URIs. Versions are immutable;
// accessors return copies.
type Version struct {
	attrs     map[string]string
	resources []string
}

// NewVersion builds a Version from attributes and resources. Both are copied.
// A "resources" entry in attrs is ignored; resources are not attributes.
func NewVersion(attrs map[string]string, resources []string) Version {
	a := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if k == AttrResources {
			continue
		}
		a[k] = v
	}
	return Version{attrs: a, resources: slices.Clone(resources)}
}

// Get returns the value of an attribute.
func (v Version) Get(key string) (string, bool) {
	val, ok := v.attrs[key]
	return val, ok
}

// Platform returns the platform attribute.
func (v Version) Platform() string {
	return v.attrs[AttrPlatform]
}

// Package returns the package attribute.
func (v Version) Package() string {
	return v.attrs[AttrPackage]
}

// Resources returns a copy of the resource URIs in authoring order.
func (v Version) Resources() []string {
	return slices.Clone(v.resources)
}

// Attributes returns a copy of all attributes, resources excluded.
func (v Version) Attributes() map[string]string {
	return maps.Clone(v.attrs)
}

// Keys returns the attribute names in sorted order.
func (v Version) Keys() []string {
	keys := make([]string, 0, len(v.attrs))
	for k := range v.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches reports whether every criteria entry is present in v with an
// equal value. Empty criteria match every version.
func (v Version) Matches(c Criteria) bool {
	for k, want := range c {
		got, ok := v.attrs[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Equal reports structural equality.
func (v Version) Equal(o Version) bool {
	return maps.Equal(v.attrs, o.attrs) && slices.Equal(v.resources, o.resources)
}

// MarshalJSON renders the version the way it is stored in metadata files.
func (v Version) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(v.attrs)+1)
	for k, val := range v.attrs {
		out[k] = val
	}
	res := v.resources
	if res == nil {
		res = []string{}
	}
	out[AttrResources] = res
	return json.Marshal(out)
}

// Filter returns the versions matching c, preserving order.
func Filter(versions []Version, c Criteria) []Version {
	var out []Version
	for _, v := range versions {
		if v.Matches(c) {
			out = append(out, v)
		}
	}
	return out
}
