package main

import "github.com/notifq/notifq/cmd"

func main() {
	cmd.Execute()
}
