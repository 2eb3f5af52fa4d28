package main

import "github.com/agendasalud/authd/cmd/authd/cmd"

func main() {
	cmd.Execute()
}
