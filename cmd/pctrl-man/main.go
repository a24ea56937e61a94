package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pctrl/pctrl/internal/cli"
	"github.com/pctrl/pctrl/internal/version"
)

func main() {
	outDir := flag.String("out", "dist/man", "directory to write pctrl man pages into")
	buildTime := flag.String("date", version.BuildTime, "RFC 3339 build time stamped on every page")
	flag.Parse()
	if flag.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: pctrl-man [-out dir] [-date rfc3339]")
		os.Exit(2)
	}

	build := cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: *buildTime,
	}
	if err := cli.GenerateManPages(*outDir, build); err != nil {
		fmt.Fprintf(os.Stderr, "pctrl-man: %v\n", err)
		os.Exit(1)
	}
}
