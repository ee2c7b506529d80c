package main

import "dunrelay/cmd"

func main() {
	cmd.Execute()
}
