// Command vai-canvas runs a live voice session against the Gemini Live API
// from the terminal and manages its saved history.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vai-canvas: %v\n", err)
		os.Exit(1)
	}
}
