package main

import "lunarelay/cmd"

func main() {
	cmd.Execute()
}
