package main

import (
	"os"

	"github.com/tactus-audio/tactus-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
