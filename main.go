package main

import "powgossip_go/cmd"

func main() {
	cmd.Execute()
}
