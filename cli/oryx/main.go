package main

import (
	"os"

	oryxcmder "github.com/papercomputeco/oryx/cmd/oryx"
)

func main() {
	cmd := oryxcmder.NewOryxCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
