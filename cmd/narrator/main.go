// Command narrator runs the speech pipeline worker and a few operator tools
// against the narrator exchange.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
