package main

import "github.com/simonyos/zcode-core/cmd"

func main() {
	cmd.Execute()
}
