package main

import (
	"os"

	"github.com/miradorstack/mirador-sentinel/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
