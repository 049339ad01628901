package main

import (
	"fmt"
	"os"
)

var client srv

func main() {
	client.loadApp()

	if err := client.app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
