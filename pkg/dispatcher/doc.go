// Package dispatcher routes protocol calls to built-in system tools and to
// user tools.
//
// A call names its target by flat identifier. The dispatcher decodes it,
// enforces the privilege tier of /sbin, validates the arguments of
// built-ins against a fixed JSON schema and runs user tool scripts on the
// execution engine with their declared parameters bound as globals.
//
// Invariants:
//   - A call missing a required parameter fails with MissingParameter before
//     any script is submitted, so interpreter state is untouched.
//   - /sbin tools are neither callable nor listed for unprivileged callers.
//   - The set of built-ins is fixed; every built-in is a protected registry
//     entry.
//
// Usage:
//
//	reg, _ := registry.New(registry.Config{System: dispatcher.SystemTools()})
//	d, _ := dispatcher.New(dispatcher.Config{Registry: reg, Engine: eng})
//	res, err := d.Dispatch(ctx, "user_alice__utils___reverse", args, false)
package dispatcher
