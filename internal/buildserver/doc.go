// Package buildserver lets one exported rule stand in for any number of
// concrete build steps.
//
// The Server runs inside the process that drives the executor. It holds the
// frozen graph and listens on a loopback socket.io endpoint. Every edge the
// executor runs starts a short-lived Client, which sends a resolve request
// naming the build set by target, operator, index and identity hash. The
// server checks the hash against its snapshot and refuses stale requests
// without running anything. Otherwise it runs the commands and streams their
// output back as numbered chunks, followed by the exit status.
package buildserver
