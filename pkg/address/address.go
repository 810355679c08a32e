// Package address models hierarchical tool addresses and their flat,
// protocol-safe identifiers.
//
// A tool address names a namespace, an optional user and package, a tool
// name and a version:
//
//	/bin/script_execute
//	/sbin/tool_add
//	/docs/runtime_guide
//	/alice/utils/reverse:1.0
//
// Flat identifiers use only [A-Za-z0-9_] and replace the hierarchy and
// version separators with fixed multi-underscore tokens:
//
//	bin___script_execute
//	user_alice__utils___reverse__v1_0
//
// Invariants:
// - Decode(Encode(a)) == a for every valid address.
// - System-namespace addresses never carry a version.
// - "latest" is never spelled out in a flat identifier.
package address

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/toolns/pkg/toolerr"
)

// Namespace is the top level of a tool address.
type Namespace string

const (
	// NamespaceBin holds read-only system tools.
	NamespaceBin Namespace = "bin"
	// NamespaceSbin holds administrative system tools; calling them needs privilege.
	NamespaceSbin Namespace = "sbin"
	// NamespaceDocs holds documentation tools.
	NamespaceDocs Namespace = "docs"
	// NamespaceUser holds user tools, addressed by user and package.
	NamespaceUser Namespace = "user"
)

// IsSystem reports whether ns is one of the protected system namespaces.
func (ns Namespace) IsSystem() bool {
	return ns == NamespaceBin || ns == NamespaceSbin || ns == NamespaceDocs
}

// ParseNamespace maps a namespace string to a system namespace. Any other
// string is treated as a user name and yields NamespaceUser.
func ParseNamespace(s string) Namespace {
	switch Namespace(s) {
	case NamespaceBin, NamespaceSbin, NamespaceDocs:
		return Namespace(s)
	}
	return NamespaceUser
}

var segmentRegex = regexp.MustCompile(`^[A-Za-z0-9]+(_[A-Za-z0-9]+)*$`)

// ValidSegment reports whether s may be used as a user, package or tool name.
// Segments never contain leading, trailing or repeated underscores, which
// keeps the flat separator tokens unambiguous.
func ValidSegment(s string) bool {
	return segmentRegex.MatchString(s)
}

// Address identifies a tool.
type Address struct {
	Namespace Namespace
	User      string
	Package   string
	Name      string
	Version   VersionSpec
}

// SystemTool builds a system-namespace address.
func SystemTool(ns Namespace, name string) Address {
	return Address{Namespace: ns, Name: name}
}

// Bin builds a /bin address.
func Bin(name string) Address { return SystemTool(NamespaceBin, name) }

// Sbin builds a /sbin address.
func Sbin(name string) Address { return SystemTool(NamespaceSbin, name) }

// Docs builds a /docs address.
func Docs(name string) Address { return SystemTool(NamespaceDocs, name) }

// User builds a user address.
func User(user, pkg, name string, version VersionSpec) Address {
	return Address{
		Namespace: NamespaceUser,
		User:      user,
		Package:   pkg,
		Name:      name,
		Version:   version,
	}
}

// IsSystem reports whether the address is in a system namespace.
func (a Address) IsSystem() bool {
	return a.Namespace.IsSystem()
}

// WithVersion returns a copy of a with the given version.
func (a Address) WithVersion(v VersionSpec) Address {
	a.Version = v
	return a
}

// Validate checks the address against the segment and version grammar.
func (a Address) Validate() error {
	switch {
	case a.Namespace.IsSystem():
		if a.User != "" || a.Package != "" {
			return toolerr.New(toolerr.KindMalformedIdentifier,
				"system tool %s/%s cannot have a user or package", a.Namespace, a.Name)
		}
		if !a.Version.IsLatest() {
			return toolerr.New(toolerr.KindMalformedIdentifier,
				"system tool /%s/%s cannot carry a version", a.Namespace, a.Name)
		}
		if !ValidSegment(a.Name) {
			return toolerr.New(toolerr.KindMalformedIdentifier, "invalid tool name %q", a.Name)
		}
		return nil
	case a.Namespace == NamespaceUser:
		if !ValidSegment(a.User) {
			return toolerr.New(toolerr.KindMalformedIdentifier, "invalid user %q", a.User)
		}
		if Namespace(a.User).IsSystem() {
			return toolerr.New(toolerr.KindMalformedIdentifier, "user name %q is reserved", a.User)
		}
		if !ValidSegment(a.Package) {
			return toolerr.New(toolerr.KindMalformedIdentifier, "invalid package %q", a.Package)
		}
		if !ValidSegment(a.Name) {
			return toolerr.New(toolerr.KindMalformedIdentifier, "invalid tool name %q", a.Name)
		}
		if !a.Version.IsLatest() && !ValidVersion(a.Version.Value()) {
			return toolerr.New(toolerr.KindMalformedIdentifier, "invalid version %q", a.Version.Value())
		}
		return nil
	default:
		return toolerr.New(toolerr.KindUnknownNamespace, "unknown namespace %q", string(a.Namespace))
	}
}

// String renders the address in path form.
func (a Address) String() string {
	if a.Namespace.IsSystem() {
		return fmt.Sprintf("/%s/%s", a.Namespace, a.Name)
	}
	if a.Version.IsLatest() {
		return fmt.Sprintf("/%s/%s/%s", a.User, a.Package, a.Name)
	}
	return fmt.Sprintf("/%s/%s/%s:%s", a.User, a.Package, a.Name, a.Version.Value())
}

// ParseAddress parses the path form produced by String. An explicit
// ":latest" suffix is accepted and normalised to the implicit default.
func ParseAddress(path string) (Address, error) {
	if !strings.HasPrefix(path, "/") {
		return Address{}, toolerr.New(toolerr.KindMalformedIdentifier, "tool path %q must start with '/'", path)
	}

	parts := strings.Split(path[1:], "/")
	var addr Address

	switch len(parts) {
	case 2:
		ns := Namespace(parts[0])
		if !ns.IsSystem() {
			return Address{}, toolerr.New(toolerr.KindUnknownNamespace,
				"unknown namespace %q in %q (user tools are /<user>/<package>/<name>)", parts[0], path)
		}
		if strings.Contains(parts[1], ":") {
			return Address{}, toolerr.New(toolerr.KindMalformedIdentifier,
				"system tool path %q cannot carry a version", path)
		}
		addr = SystemTool(ns, parts[1])
	case 3:
		name, version, hasVersion := strings.Cut(parts[2], ":")
		spec := Latest()
		switch {
		case hasVersion && version == "":
			return Address{}, toolerr.New(toolerr.KindMalformedIdentifier,
				"tool path %q has an empty version", path)
		case hasVersion && version != "latest":
			spec = Exact(version)
		}
		addr = User(parts[0], parts[1], name, spec)
	default:
		return Address{}, toolerr.New(toolerr.KindMalformedIdentifier, "invalid tool path format: %s", path)
	}

	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}
