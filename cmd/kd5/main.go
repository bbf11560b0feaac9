package main

import (
	"fmt"
	"os"

	"kd5/internal/cli"
)

func main() {
	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kd5:", err)
		os.Exit(1)
	}
}
