// Package app contains the lifecycle of one invocation: configuring the graph
// from build scripts, exporting and regenerating the manifest, and driving
// the executor together with the build server. It is decoupled from the
// command line, which lives in package cli.
package app
