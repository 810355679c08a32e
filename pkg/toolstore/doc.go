// Package toolstore persists user tool definitions between runs.
//
// Two backends are provided: FileStore (a JSON or YAML document) and
// SQLiteStore. Each record carries a SHA-256 checksum of its script which is
// verified on load. Built-in tools are never persisted and tools found by
// discovery are re-read from disk instead of being stored.
//
// Usage:
//
//	store, _ := toolstore.Open("file", "/var/lib/toolns/tools.json")
//	toolstore.Restore(ctx, store, reg)
//	toolstore.NewAutoSave(toolstore.AutoSaveConfig{Store: store, Registry: reg})
package toolstore
