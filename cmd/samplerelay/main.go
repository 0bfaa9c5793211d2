package main

import "samplerelay/cmd"

func main() {
	cmd.Execute()
}
