package main

import "github.com/snider/plugin-updater/cmd/updater/cmd"

func main() {
	cmd.Execute()
}
