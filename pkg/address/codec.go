package address

import (
	"regexp"
	"strings"

	"github.com/harun/toolns/pkg/toolerr"
)

const (
	// namespaceSeparator splits the namespace part from the tool part.
	namespaceSeparator = "___"
	// ownerSeparator splits user from package and name from version.
	ownerSeparator = "__"
	userPrefix     = "user_"
	versionPrefix  = "v"
	latestToken    = "latest"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Encode returns the flat identifier for a. The result is only meaningful
// for addresses that pass Validate.
func Encode(a Address) string {
	if a.Namespace.IsSystem() {
		return string(a.Namespace) + namespaceSeparator + a.Name
	}

	var b strings.Builder
	b.WriteString(userPrefix)
	b.WriteString(a.User)
	b.WriteString(ownerSeparator)
	b.WriteString(a.Package)
	b.WriteString(namespaceSeparator)
	b.WriteString(a.Name)
	if !a.Version.IsLatest() {
		b.WriteString(ownerSeparator)
		b.WriteString(versionPrefix)
		b.WriteString(encodeVersion(a.Version.Value()))
	}
	return b.String()
}

// Decode parses a flat identifier.
func Decode(id string) (Address, error) {
	if !identifierRegex.MatchString(id) {
		return Address{}, malformed(id, "contains characters outside [A-Za-z0-9_]")
	}

	head, tail, ok := strings.Cut(id, namespaceSeparator)
	if !ok {
		return Address{}, malformed(id, "missing namespace separator")
	}
	if head == "" {
		return Address{}, malformed(id, "empty namespace segment")
	}

	if ns := Namespace(head); ns.IsSystem() {
		if !ValidSegment(tail) {
			if strings.Contains(tail, ownerSeparator) {
				return Address{}, malformed(id, "system tools cannot carry a version")
			}
			return Address{}, malformed(id, "invalid tool name")
		}
		return SystemTool(ns, tail), nil
	}

	owner, isUser := strings.CutPrefix(head, userPrefix)
	if !isUser {
		return Address{}, toolerr.New(toolerr.KindUnknownNamespace,
			"unknown namespace %q in identifier %q", head, id)
	}

	user, pkg, ok := strings.Cut(owner, ownerSeparator)
	if !ok {
		return Address{}, malformed(id, "missing package segment")
	}
	if !ValidSegment(user) || !ValidSegment(pkg) {
		return Address{}, malformed(id, "invalid user or package segment")
	}

	name, rawVersion, hasVersion := strings.Cut(tail, ownerSeparator)
	if !ValidSegment(name) {
		return Address{}, malformed(id, "invalid tool name")
	}

	version := Latest()
	if hasVersion {
		digits, ok := strings.CutPrefix(rawVersion, versionPrefix)
		switch {
		case !ok:
			return Address{}, malformed(id, "version must start with 'v'")
		case digits == latestToken:
			return Address{}, malformed(id, "latest is implicit and cannot be spelled out")
		}
		v := decodeVersion(digits)
		if strings.Contains(digits, ".") || !ValidVersion(v) {
			return Address{}, malformed(id, "invalid version digits")
		}
		version = Exact(v)
	}

	addr := User(user, pkg, name, version)
	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

func malformed(id, reason string) error {
	return toolerr.New(toolerr.KindMalformedIdentifier, "malformed identifier %q: %s", id, reason)
}
