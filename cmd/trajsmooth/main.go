// Package main is the trajsmooth command line tool.
package main

import (
	"log"
	"os"
)

func main() {
	if err := NewApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
