// Package mcpclient connects to an MCP server over whichever HTTP transport
// generation it speaks. It tries the streamable HTTP transport first and falls
// back to the legacy HTTP+SSE transport, which is how clients are expected to
// reach servers that may predate the streamable protocol.
package mcpclient
