package main

import (
	"fmt"

	"github.com/parabola-rm/rmbuilder"
)

const versionHelp = `version - print the rmbuilder version
`

func version(args []string) error {
	fmt.Println(rmbuilder.Version)
	return nil
}
