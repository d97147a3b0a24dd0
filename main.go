package main

import (
	"os"

	"filechat/internal/cli"
	"filechat/internal/log"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
}
