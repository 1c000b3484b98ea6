package main

import "github.com/lastmile-ai/aiconfig-sub000/cmd"

// Build is set via ldflags at build time
var Build = "unknown"

func main() {
	cmd.SetBuild(Build)
	cmd.Execute()
}
