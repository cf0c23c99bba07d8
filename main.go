package main

import "github.com/alejoacosta74/skinport-go/cmd"

func main() {
	cmd.Execute()
}
