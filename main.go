package main

import (
	"runtime"

	"fitsedit/cmd"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

func main() {
	runtime.GOMAXPROCS(4)
	cmd.Execute(Version)
}
