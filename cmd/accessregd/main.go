package main

import "github.com/accessreg/accessreg/cmd/accessregd/cmd"

func main() {
	cmd.Execute()
}
