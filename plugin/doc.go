// Package plugin discovers, validates and launches plugin processes.
//
// A plugin lives in its own directory with a plugin.json manifest naming
// its entry point, protocol range, dependencies, permissions and services.
// Discover and ParseManifest read manifests, Plan checks a set of plugins
// before anything is started, and Launch/Load start them behind a Bridge
// whose Channel speaks to the process over stdin and stdout.
//
// Runtime is the other end: plugin binaries written in Go use it to
// register services and call the host.
package plugin
