package main

import "github.com/yz4230/deployhost/cmd"

func main() {
	cmd.Execute()
}
