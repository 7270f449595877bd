package main

import (
	"fmt"
	"os"

	"github.com/batchctl/batchctl/cmd/batchctl"
)

func main() {
	if err := batchctl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
