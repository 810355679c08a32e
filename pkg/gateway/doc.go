// Package gateway serves the tool dispatcher over JSON-RPC 2.0.
//
// Endpoints:
//
//	POST /rpc   one request per HTTP call
//	GET  /ws    WebSocket, one JSON-RPC message per frame
//	GET  /healthz
//	GET  /metrics
//
// Methods are initialize, ping, tools/list and tools/call. A tools/call
// result is {content: [{type: "text", text}], isError}; script errors are
// reported with isError set, every other dispatch failure becomes a JSON-RPC
// error whose data carries the error kind.
//
// When an API key is configured, requests must present it as a bearer token
// or in the X-API-Key header. The privilege tier is a property of the
// server, not of individual requests.
package gateway
