// Package mcp contains the wire-level Model Context Protocol types the
// gateway speaks: the initialize handshake, the tools surface, and the
// resources surface used for context-engineering documents. Types mirror the
// protocol's JSON shapes and carry no behavior.
package mcp
