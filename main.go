package main

import "github.com/nextlevelbuilder/botserver/cmd"

func main() {
	cmd.Execute()
}
