package main

import "github.com/bryanchriswhite/browsercast/cmd/browsercast/commands"

func main() {
	commands.Execute()
}
