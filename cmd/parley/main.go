package main

import "github.com/go-go-golems/parley/cmd/parley/cmds"

func main() {
	cmds.Execute()
}
