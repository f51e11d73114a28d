package main

import "github.com/donantes/edge/cmd"

func main() {
	cmd.Execute()
}
