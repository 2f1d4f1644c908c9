package main

import "github.com/NamanBalaji/segdl/cmd"

func main() {
	cmd.Execute()
}
