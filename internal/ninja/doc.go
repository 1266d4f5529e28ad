// Package ninja lowers a frozen build graph into a ninja manifest and runs
// the ninja binary over it.
//
// Each operator becomes one rule whose command is a fixed-shape dispatcher
// ("buildgrid client <target> <operator> $index $hash") and each build set
// becomes one edge carrying its index and identity hash. The manifest size
// therefore grows with the number of operators and edges, never with the
// length of the real commands. In script mode the dispatcher is replaced by
// one flattened shell script per build set.
package ninja
