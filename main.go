package main

import "github.com/plahtine/janus/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
