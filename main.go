// ./main.go
package main

import (
	"github.com/webpilot-ai/webpilot/cmd"
)

func main() {
	// All command-line parsing, configuration, and execution happens in
	// the cmd package.
	cmd.Execute()
}
