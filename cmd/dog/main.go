package main

import (
	"dogengine/cmd/dog/cmd"
)

func main() {
	cmd.Execute()
}
