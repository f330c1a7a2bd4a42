// Package session tracks the live MCP transport handles of a server process,
// keyed by session identifier, so that follow-up HTTP requests belonging to
// one logical session reach the transport that owns it.
//
// A Manager owns one Table per transport generation: the streamable HTTP
// transport and the legacy SSE transport have independent namespaces. A Handle
// is reachable from its Table if and only if its connection is open; the code
// that observes the close calls Table.Remove exactly once.
package session
