package main

import (
	"github.com/go-unwind/unwind/cmd/cfdump/cmds"
	"github.com/go-unwind/unwind/pkg/version"
)

// Build is the git revision this binary was built from.
var Build string

func main() {
	if Build != "" {
		version.UnwindVersion.Build = Build
	}
	cmds.New().Execute()
}
