package main

import "github.com/nicktill/procmem/cmd/procmem/cmd"

func main() {
	cmd.Execute()
}
