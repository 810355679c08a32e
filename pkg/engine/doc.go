// Package engine serializes script evaluation against a single stateful
// interpreter.
//
// Callers on any goroutine Submit requests; one worker goroutine owns the
// Evaluator and drains a bounded FIFO queue. Interpreter state (procedures,
// globals) persists across requests and never leaves the worker.
//
// Invariants:
// - Requests are evaluated strictly in acceptance order.
// - A full queue rejects immediately with EngineBusy; Submit never blocks
//   on queue capacity.
// - A script error fails only its own request.
// - A panic inside the evaluator faults the engine: the in-flight request,
//   every queued request and every later submission fail with
//   EngineUnavailable.
// - A request whose context is cancelled before the worker reaches it is
//   dropped without touching the interpreter. Cancelling a running request
//   is advisory: the caller stops waiting but the script completes.
//
// Usage:
//
//	eng := engine.New(evaluator, engine.Options{QueueSize: 100, Logger: logger})
//	eng.Start()
//	defer eng.Close()
//	res, err := eng.Submit(ctx, engine.Request{Script: "return 1 + 1"})
package engine
