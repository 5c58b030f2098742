package main

import (
	"fmt"
	"os"

	"github.com/abhinavnt/codefolio-sub001/cmd/peer/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
