package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDOT(t *testing.T) {
	g, err := NewService(sampleStore()).GetGraph(context.Background(), "root")
	require.NoError(t, err)

	want := "digraph tree {\n" +
		"\t\"10\" [label=<\n" +
		"\t\t<font face=\"Sans-Serif\">root.test</font><br/>\n" +
		"\t\t<font face=\"Sans-Serif\" color=\"#37474F\">Mar 9, 07:05:03</font>\n" +
		"\t>, shape=rectangle, fixedsize=true, width=2.7, height=0.75]\n" +
		"\t\"11\" [label=<\n" +
		"\t\t<font face=\"Sans-Serif\">did:plc:d1</font><br/>\n" +
		"\t\t<font face=\"Sans-Serif\" color=\"#37474F\">Mar 9, 07:06:03</font>\n" +
		"\t>, shape=rectangle, fixedsize=true, width=2.7, height=0.75]\n" +
		"\t\"10\" -> \"11\"\n" +
		"}\n"
	assert.Equal(t, want, RenderDOT(g))
}

func TestRenderDOTEmpty(t *testing.T) {
	assert.Equal(t, "digraph tree {\n}\n", RenderDOT(Graph{}))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "alice.test", displayName(Node{DID: "did:plc:a", AlsoKnownAs: strp("at://alice.test")}))
	assert.Equal(t, "did:plc:a", displayName(Node{DID: "did:plc:a"}))
	assert.Equal(t, "did:plc:a", displayName(Node{DID: "did:plc:a", AlsoKnownAs: strp("https://alice.test")}))
}

func TestRenderDOTEscapesLabels(t *testing.T) {
	g := Graph{Nodes: []Node{{
		ID:          1,
		DID:         "did:plc:a",
		AlsoKnownAs: strp("at://<b>&co"),
		CreatedAt:   time.Date(2024, 12, 25, 23, 0, 0, 0, time.FixedZone("X", 3600)),
	}}}

	out := RenderDOT(g)
	assert.Contains(t, out, ">&lt;b&gt;&amp;co</font>")
	assert.Contains(t, out, "Dec 25, 22:00:00")
}
