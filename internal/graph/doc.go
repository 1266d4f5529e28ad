// Package graph is the in-memory model of what must be built: projects,
// targets with their dependency edges, operators (rule templates) and build
// sets (concrete, hashed invocations of an operator).
//
// A Session is populated by a front end, then frozen before export. From the
// freeze point on it is immutable and safe to read concurrently, which is
// what the build server relies on.
package graph
