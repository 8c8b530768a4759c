// Package main provides the render-client CLI for the voice-render service.
//
// Usage:
//
//	render-client [flags] <command> [args]
//
// Commands:
//
//	submit   - Submit an audio file for rendering
//	status   - Show the state of a render job
//	fetch    - Download the output of a completed job
//	preview  - Render a fast local preview of a parameter set
//	health   - Check whether the service can render
package main

import (
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
