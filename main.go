package main

import (
	"github.com/histsync/histsync/cmd"
	"github.com/histsync/histsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
