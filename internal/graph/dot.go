package graph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WriteDOT renders the graph in GraphViz format: targets as boxes, their
// operators as ellipses and build sets as points labelled with their index.
// Dependency edges point from the dependent to the dependency.
func (s *Session) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	q := strconv.Quote

	fmt.Fprintln(bw, "digraph buildgrid {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	for _, t := range s.targetOrder {
		fmt.Fprintf(bw, "  %s [shape=box];\n", q(t.ID))
		for _, d := range t.deps {
			style := "dashed"
			if d.Public {
				style = "solid"
			}
			fmt.Fprintf(bw, "  %s -> %s [style=%s];\n", q(t.ID), q(d.Target.ID), style)
		}
		for _, op := range t.operators {
			fmt.Fprintf(bw, "  %s [shape=ellipse];\n", q(op.ID))
			fmt.Fprintf(bw, "  %s -> %s [arrowhead=none];\n", q(t.ID), q(op.ID))
			for _, b := range op.buildSets {
				node := fmt.Sprintf("%s#%d", op.ID, b.Index)
				fmt.Fprintf(bw, "  %s [shape=point, xlabel=%s];\n", q(node), q(strconv.Itoa(b.Index)))
				fmt.Fprintf(bw, "  %s -> %s [arrowhead=none];\n", q(op.ID), q(node))
			}
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
