// Package identity computes the fingerprint of a build set's effective work.
//
// The fingerprint covers the expanded command lines, the environment
// overrides, the working directory override and the declared outputs. It
// does not cover file contents or timestamps; the executor tracks those.
// Who declared the work is not part of it either, so identical work declared
// by two targets hashes identically.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"lukechampine.com/blake3"
)

// Size is the length of a hex encoded identity hash.
const Size = 32

// Work is the canonical description of what a build set does.
type Work struct {
	// Commands are the fully expanded argv lists, in execution order.
	Commands [][]string
	// Env holds the environment overrides.
	Env map[string]string
	// Cwd is the working directory override, empty when inherited.
	Cwd string
	// Outputs maps output group names to their files.
	Outputs map[string][]string
}

// Hash returns the hex encoded identity hash of w.
//
// Every field is length prefixed so adjacent values can not run into each
// other. Maps are walked in sorted key order and output file lists are
// sorted.
func Hash(w Work) string {
	h := blake3.New(32, nil)
	fw := fieldWriter{h: h}

	fw.count(len(w.Commands))
	for _, argv := range w.Commands {
		fw.count(len(argv))
		for _, a := range argv {
			fw.field(a)
		}
	}

	keys := sortedKeys(w.Env)
	fw.count(len(keys))
	for _, k := range keys {
		fw.field(k)
		fw.field(w.Env[k])
	}

	fw.field(w.Cwd)

	groups := sortedKeys(w.Outputs)
	fw.count(len(groups))
	for _, g := range groups {
		files := append([]string(nil), w.Outputs[g]...)
		sort.Strings(files)
		fw.field(g)
		fw.count(len(files))
		for _, f := range files {
			fw.field(f)
		}
	}

	return hex.EncodeToString(h.Sum(nil))[:Size]
}

type fieldWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *fieldWriter) count(n int) {
	binary.BigEndian.PutUint64(w.buf[:], uint64(n))
	w.h.Write(w.buf[:])
}

func (w *fieldWriter) field(s string) {
	w.count(len(s))
	w.h.Write([]byte(s))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
