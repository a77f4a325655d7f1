package main

import "github.com/jake-scott/smarthome-hybrid/cmd"

func main() {
	cmd.Execute()
}
