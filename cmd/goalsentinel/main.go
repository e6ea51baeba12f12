package main

import (
	"os"

	"GoalSentinel/cmd/goalsentinel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
