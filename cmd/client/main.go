package main

import "github.com/skillmeet/meetcore/cmd/client/cmd"

func main() {
	cmd.Execute()
}
