// Package compatserver serves one MCP server over both transport generations
// at once: the streamable HTTP transport on a single endpoint, and the legacy
// HTTP+SSE pair of an event stream plus a message-posting endpoint. Each
// generation keeps its own session table so a client speaking either protocol
// is routed to the transport that owns its session.
package compatserver
