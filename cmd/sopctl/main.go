package main

import (
	"os"

	"github.com/provenworks/sopctl/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
