package types

// Version is the canonical bundlesync version.
// The CLI, wire payloads, and archive records all report this value.
const Version = "0.3.0"
