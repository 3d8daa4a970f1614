package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	flag.Parse()

	type cmd struct {
		helpText string
		fn       func(args []string) error
	}
	verbs := map[string]cmd{
		"init":    {initHelp, initConfig},
		"build":   {buildHelp, build},
		"install": {installHelp, install},
		"version": {versionHelp, version},
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	verb, args := args[0], args[1:]

	var printHelp bool
	if verb == "help" {
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
		printHelp = true
	}
	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		usage()
		os.Exit(2)
	}
	if printHelp {
		fmt.Fprintf(os.Stderr, "%s", v.helpText)
	}
	if err := v.fn(args); err != nil {
		fmt.Printf("%s: %+v\n", verb, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "syntax: rmbuilder <command> [options]\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tinit - write the default configuration file\n")
	fmt.Fprintf(os.Stderr, "\tbuild - resolve and validate the prebuilt artifacts\n")
	fmt.Fprintf(os.Stderr, "\tinstall - provision a tablet eMMC (DESTRUCTIVE)\n")
	fmt.Fprintf(os.Stderr, "\tversion - print the rmbuilder version\n")
}
