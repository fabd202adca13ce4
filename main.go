// The main package for the pagelocalizer executable.
package main

import (
	"github.com/JakeFAU/pagelocalizer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
