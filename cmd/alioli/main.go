package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gaborage/alioli/internal/commands"
)

var version = "dev" // Set during build

func main() {
	if err := commands.NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
