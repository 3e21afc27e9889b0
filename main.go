package main

import "github.com/jfmyers9/scrollback/cmd"

func main() {
	cmd.Execute()
}
