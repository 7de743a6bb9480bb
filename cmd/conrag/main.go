// Package main provides the entry point for the conrag CLI.
package main

import (
	"os"

	"github.com/jepras/ConstructionRAG-sub001/cmd/conrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
