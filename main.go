package main

import "Kickfolio/cmd"

func main() {
	cmd.Execute()
}
