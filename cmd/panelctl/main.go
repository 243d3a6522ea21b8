package main

import "github.com/terraconstructs/panel/cmd/panelctl/cmd"

func main() {
	cmd.Execute()
}
