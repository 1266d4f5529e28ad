// Package config defines the contract between the engine and the front ends
// that populate a build graph, along with the resolved option values handed
// to them.
//
// The core never parses build scripts or option files itself. A Loader reads
// whatever format it understands and calls into the graph package; the HCL
// implementation lives in its own package.
package config
