package main

import "github.com/sageagent/sage/cmd"

func main() {
	cmd.Execute()
}
