package main

import "toolgraph/cmd"

func main() {
	cmd.Execute()
}
