package main

import "github.com/atomicobject/vaultweaver/cmd"

func main() {
	cmd.Execute()
}
