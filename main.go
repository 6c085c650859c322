// The main package for the tagops executable.
package main

import (
	"github.com/JakeFAU/tagops-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
