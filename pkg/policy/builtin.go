package policy

// Builtin policy names.
const (
	PolicyPackageNaming = "package-naming"
	PolicyHostNaming    = "host-naming"
	PolicyPinnedVersion = "pinned-version"
)

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		packageNamingPolicy(),
		hostNamingPolicy(),
		pinnedVersionPolicy(),
	}
}

// packageNamingPolicy keeps package ids usable as repository directory names.
func packageNamingPolicy() Policy {
	return Policy{
		Name:        PolicyPackageNaming,
		Description: "Package names are lowercase letters, digits, '.', '_', '+' or '-'",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package deploy.builtin.package_naming

import rego.v1

deny contains violation if {
	pkg := input.artifact.parameters["package"]
	not regex.match("^[a-z0-9][a-z0-9._+-]*$", pkg)
	violation := {
		"message": sprintf("package name '%s' must be lowercase letters, digits, '.', '_', '+' or '-'", [pkg]),
		"severity": "error",
	}
}

deny contains violation if {
	pkg := input.artifact.parameters["package"]
	count(pkg) > 128
	violation := {
		"message": sprintf("package name '%s' exceeds 128 characters", [pkg]),
		"severity": "error",
	}
}`,
	}
}

// hostNamingPolicy rejects host names that cannot be a DNS name or address.
func hostNamingPolicy() Policy {
	return Policy{
		Name:        PolicyHostNaming,
		Description: "Target hosts are DNS names or IP addresses",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package deploy.builtin.host_naming

import rego.v1

deny contains violation if {
	input.host != ""
	not regex.match("^\\[?[A-Za-z0-9._:-]+\\]?$", input.host)
	violation := {
		"message": sprintf("host '%s' is not a valid host name or address", [input.host]),
		"severity": "error",
	}
}`,
	}
}

// pinnedVersionPolicy warns about installs that accept any version.
func pinnedVersionPolicy() Policy {
	return Policy{
		Name:        PolicyPinnedVersion,
		Description: "Installs should select a version",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package deploy.builtin.pinned_version

import rego.v1

deny contains violation if {
	not input.artifact.parameters.version
	violation := {
		"message": sprintf("%s is not pinned to a version, every matching version will be installed", [input.artifact.name]),
		"severity": "warning",
	}
}`,
	}
}
