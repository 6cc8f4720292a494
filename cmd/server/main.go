package main

import "earnsystem/cmd/server/cmd"

func main() {
	cmd.Execute()
}
