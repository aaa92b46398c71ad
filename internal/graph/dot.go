package graph

import (
	"fmt"
	"html"
	"strings"
)

const dotTimeLayout = "Jan 2, 15:04:05"

// RenderDOT writes g as a Graphviz digraph. Each node is a fixed-size
// rectangle with an HTML label holding the author and creation time.
func RenderDOT(g Graph) string {
	var b strings.Builder
	b.WriteString("digraph tree {\n")

	for _, n := range g.Nodes {
		fmt.Fprintf(&b,
			"\t\"%d\" [label=<\n\t\t<font face=\"Sans-Serif\">%s</font><br/>\n\t\t<font face=\"Sans-Serif\" color=\"#37474F\">%s</font>\n\t>, shape=rectangle, fixedsize=true, width=2.7, height=0.75]\n",
			n.ID,
			html.EscapeString(displayName(n)),
			n.CreatedAt.UTC().Format(dotTimeLayout),
		)
	}

	for _, e := range g.Edges {
		fmt.Fprintf(&b, "\t\"%d\" -> \"%d\"\n", e.Source, e.Target)
	}

	b.WriteString("}\n")
	return b.String()
}

// displayName is the handle without its at:// prefix, or the did when there
// is no handle in that form.
func displayName(n Node) string {
	if n.AlsoKnownAs != nil {
		if handle, ok := strings.CutPrefix(*n.AlsoKnownAs, "at://"); ok {
			return handle
		}
	}
	return n.DID
}
