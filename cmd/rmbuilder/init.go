package main

import (
	"flag"
	"log"
	"os"

	"golang.org/x/xerrors"

	"github.com/parabola-rm/rmbuilder/internal/config"
)

const initHelp = `init - write the default configuration file

The generated file documents every section with its default value; edit it
and pass it to build/install via -config.

Example:
  % rmbuilder init -output rmbuilder.yaml
`

func initConfig(args []string) error {
	fset := flag.NewFlagSet("init", flag.ExitOnError)
	var (
		output = fset.String("output",
			"rmbuilder.yaml",
			"path to write the default configuration to")

		force = fset.Bool("force",
			false,
			"overwrite an existing configuration file")
	)
	fset.Parse(args)

	if !*force {
		if _, err := os.Stat(*output); err == nil {
			return xerrors.Errorf("%s already exists (use -force to overwrite)", *output)
		}
	}
	if err := config.WriteDefault(*output); err != nil {
		return err
	}
	log.Printf("wrote default configuration to %s", *output)
	return nil
}
