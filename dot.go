package kestrel

import (
	"bytes"
	"fmt"
	"io"
	"text/template"

	"github.com/goccy/go-graphviz"
)

const dotTemplate = `digraph {{printf "%q" .Name}} {
	node [shape="box" fontname="Courier"];
{{- range .Nodes}}
	{{printf "%q" .ID}} [ label={{printf "%q" .Label}} ];
{{- end}}
{{- range .Edges}}
	{{printf "%q -> %q" .From .To}}{{if .Label}} [ label={{printf "%q" .Label}} ]{{end}};
{{- end}}
}
`

var dotTmpl = template.Must(template.New("dot").Parse(dotTemplate))

type dotNode struct {
	ID    string
	Label string
}

type dotEdge struct {
	From, To string
	Label    string
}

// Dot returns the graph in Graphviz DOT format. Each node lists the
// instructions of its block and each guarded edge is labeled with its guard.
func (g *ControlFlowGraph) Dot(name string) string {
	var data struct {
		Name  string
		Nodes []dotNode
		Edges []dotEdge
	}
	data.Name = name

	for _, b := range g.Blocks() {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "Block 0x%X", b.Index)
		for _, ins := range b.Instructions() {
			fmt.Fprintf(&buf, "\n%s", ins)
		}
		data.Nodes = append(data.Nodes, dotNode{ID: dotBlockID(b.Index), Label: buf.String()})
	}

	for _, e := range g.Edges() {
		edge := dotEdge{From: dotBlockID(e.Head), To: dotBlockID(e.Tail)}
		if e.Condition != nil {
			edge.Label = e.Condition.String()
		}
		data.Edges = append(data.Edges, edge)
	}

	var buf bytes.Buffer
	if err := dotTmpl.Execute(&buf, data); err != nil {
		panic(err) // template is static
	}
	return buf.String()
}

func dotBlockID(index int) string { return fmt.Sprintf("b%d", index) }

// RenderCFG writes fn's control-flow graph to w in a Graphviz output format
// such as "svg" or "png".
func RenderCFG(w io.Writer, fn *Function, format string) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := graphviz.ParseBytes([]byte(fn.Graph.Dot(fn.Name)))
	if err != nil {
		return fmt.Errorf("parse dot: %w", err)
	}
	defer graph.Close()

	if err := g.Render(graph, graphviz.Format(format), w); err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	return nil
}
