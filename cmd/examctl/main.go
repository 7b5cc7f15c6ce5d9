// examctl - submit exam spreadsheets for analysis and collect the reports.
package main

import (
	"os"

	"github.com/examlytics/examctl/internal/cli"
	"github.com/examlytics/examctl/internal/version"
)

// Set with -ldflags "-X main.Version=... -X main.BuildTime=...".
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
