// Package version holds the tool version recorded in export manifests and
// checked at package load.
package version

// Version is the semantic version of the tool. Manifests written by a newer
// major version are rejected at import.
const Version = "1.2.0"
