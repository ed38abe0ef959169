// The main package for the egpwatch executable.
package main

import (
	"github.com/JakeFAU/egp-watch/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
