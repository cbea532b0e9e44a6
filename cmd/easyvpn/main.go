package main

import "github.com/easyvpn/easyvpn/cmd/easyvpn/cmd"

func main() {
	cmd.Execute()
}
