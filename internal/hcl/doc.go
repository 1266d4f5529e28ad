// Package hcl is the HCL front end of the engine. It implements
// config.Loader by evaluating build scripts into a graph.Session.
//
// A script declares options and property shapes at the top level and any
// number of projects, each holding targets with their dependencies, property
// values, operators and build sets. Evaluation runs in phases so that every
// target exists before dependencies are wired, and every property is written
// before any operator can read one through prop().
package hcl
