// Lattice - self-evolving knowledge graph and recommendation engine.
//
// Lattice ingests engagement events from an agent content platform into a
// weighted knowledge graph, continuously reweights relationships as
// interests shift, and serves personalized feeds by graph traversal.
package main

import (
	"fmt"
	"os"

	"github.com/latticefeed/lattice/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
