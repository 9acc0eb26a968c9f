// Command doc generates a Graphviz diagram of the connection state machine,
// for the project documentation.
//
//	go run ./cmd/doc > docs/statemachine.dot
//	dot -Tsvg docs/statemachine.dot -o docs/statemachine.svg
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

type edge struct {
	from, to, label string
}

var states = []string{
	"Disconnected",
	"Negotiating",
	"Starting",
	"Authenticating",
	"WaitingReady",
	"Ready",
}

var edges = []edge{
	{"Disconnected", "Negotiating", "connect()"},
	{"Negotiating", "Starting", "TLS ok / plaintext"},
	{"Negotiating", "Disconnected", "error"},
	{"Starting", "Authenticating", "AuthenticationRequest"},
	{"Starting", "WaitingReady", "AuthenticationOk"},
	{"Starting", "Disconnected", "error"},
	{"Authenticating", "WaitingReady", "AuthenticationOk"},
	{"Authenticating", "Disconnected", "error"},
	{"WaitingReady", "Ready", "ReadyForQuery"},
	{"Ready", "Disconnected", "end() / fatal"},
}

func build() (*gographviz.Graph, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("connection"); err != nil {
		return nil, err
	}
	if err := g.SetDir(true); err != nil {
		return nil, err
	}
	if err := g.AddAttr("connection", "rankdir", "LR"); err != nil {
		return nil, err
	}

	for _, state := range states {
		attrs := map[string]string{"shape": "box"}
		if state == "Ready" {
			attrs["style"] = "bold"
		}
		if err := g.AddNode("connection", state, attrs); err != nil {
			return nil, err
		}
	}

	for _, e := range edges {
		attrs := map[string]string{"label": strconv.Quote(e.label)}
		if err := g.AddEdge(e.from, e.to, true, attrs); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func main() {
	g, err := build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build graph: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(g.String())
}
