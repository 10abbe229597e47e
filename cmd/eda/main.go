// Command eda is a terminal client for the Eda university admissions assistant.
package main

import (
	"os"

	"github.com/diogo/eda/internal/commands"
)

func main() {
	os.Exit(commands.Execute())
}
