// Command ragstack is the entry point for the RAG pipeline server and its
// companion CLI: one-shot questions, document management, synchronization,
// and the background sync worker.
package main

import (
	"fmt"
	"os"

	"github.com/ragstack/ragstack-go/cmd/ragstack/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
