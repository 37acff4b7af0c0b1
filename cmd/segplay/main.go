package main

import (
	"os"

	"segment-transcoder/cmd/segplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
