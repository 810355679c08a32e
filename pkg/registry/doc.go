// Package registry stores tool definitions under namespace access rules.
//
// The registry holds two kinds of tools: the fixed set of protected system
// tools (/bin, /sbin, /docs) seeded at construction, and user tools grouped
// into families keyed by (user, package, name) with one definition per
// version.
//
// Invariants:
// - Versions within a family are unique under numeric comparison, so "1"
//   and "1.0" are the same version.
// - System tools are protected: they cannot be added, replaced or removed.
// - Latest resolves to the highest version under address.CompareVersions.
// - Mutations never partially apply; Load inserts all definitions or none.
//
// Usage:
//
//	reg, _ := registry.New(registry.Config{System: builtins, Logger: logger})
//	err := reg.Add(def, privileged)
//	def, err := reg.Resolve(address.User("alice", "utils", "reverse", address.Latest()))
//	for s := range reg.List(registry.Filter{Namespace: "alice"}) { ... }
package registry
