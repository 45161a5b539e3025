package main

import "github.com/marketflow/tvstream/cmd"

func main() {
	cmd.Execute()
}
