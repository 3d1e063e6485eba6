// The main package for the facultydir executable.
package main

import (
	"github.com/harvestkit/facultydir/cmd"
)

func main() {
	cmd.Execute()
}
