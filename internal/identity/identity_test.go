package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseWork() Work {
	return Work{
		Commands: [][]string{{"cc", "-c", "/src/a.c", "-o", "/out/a.o"}},
		Env:      map[string]string{"LANG": "C", "PATH": "/usr/bin"},
		Outputs:  map[string][]string{"out": {"/out/a.o"}},
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash(baseWork())
	b := Hash(baseWork())
	assert.Equal(t, a, b)
	assert.Len(t, a, Size)
}

func TestHash_IgnoresMapAndOutputOrder(t *testing.T) {
	w1 := Work{
		Commands: [][]string{{"ar", "rcs", "lib.a"}},
		Env:      map[string]string{"A": "1", "B": "2"},
		Outputs:  map[string][]string{"x": {"/b", "/a"}, "y": {"/c"}},
	}
	w2 := Work{
		Commands: [][]string{{"ar", "rcs", "lib.a"}},
		Env:      map[string]string{"B": "2", "A": "1"},
		Outputs:  map[string][]string{"y": {"/c"}, "x": {"/a", "/b"}},
	}
	assert.Equal(t, Hash(w1), Hash(w2))
}

func TestHash_ChangesWithEffectiveWork(t *testing.T) {
	base := Hash(baseWork())

	tests := []struct {
		name   string
		mutate func(*Work)
	}{
		{"command text", func(w *Work) { w.Commands[0][1] = "-S" }},
		{"extra command", func(w *Work) { w.Commands = append(w.Commands, []string{"true"}) }},
		{"argument split", func(w *Work) { w.Commands = [][]string{{"cc -c", "/src/a.c", "-o", "/out/a.o"}} }},
		{"env value", func(w *Work) { w.Env["LANG"] = "en_US" }},
		{"env key", func(w *Work) { w.Env["EXTRA"] = "" }},
		{"cwd", func(w *Work) { w.Cwd = "/tmp" }},
		{"outputs", func(w *Work) { w.Outputs["out"] = []string{"/out/b.o"} }},
		{"output group name", func(w *Work) { w.Outputs = map[string][]string{"obj": {"/out/a.o"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := baseWork()
			tt.mutate(&w)
			assert.NotEqual(t, base, Hash(w))
		})
	}
}

func TestHash_EnvBoundaries(t *testing.T) {
	a := Work{Env: map[string]string{"A": "B=C"}}
	b := Work{Env: map[string]string{"A=B": "C"}}
	assert.NotEqual(t, Hash(a), Hash(b))
}
