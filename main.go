package main

import (
	"sunoman/cmd"
)

func main() {
	cmd.Execute()
}
