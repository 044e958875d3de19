package main

import "github.com/patchfox-io/input-service/cmd/inputd/cmd"

func main() {
	cmd.Execute()
}
