package main

import (
	"os"

	"douget/cmd/douget"
)

func main() {
	if err := douget.Execute(); err != nil {
		os.Exit(1)
	}
}
