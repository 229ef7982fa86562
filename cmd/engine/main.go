package main

import (
	"github.com/rasterjit/engine/cmd/engine/cmd"
)

func main() {
	cmd.Execute()
}
