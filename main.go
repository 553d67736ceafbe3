package main

import "github.com/nextlevelbuilder/critward/cmd"

func main() {
	cmd.Execute()
}
