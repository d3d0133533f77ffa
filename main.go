package main

import "waveline/cmd"

func main() {
	cmd.Execute()
}
