// Command jjkit is the CLI over the change-centric engine: a portable
// implementation of the Jujutsu model on top of Git object storage.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
