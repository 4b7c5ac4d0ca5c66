// kepsync reconciles the configuration of a Kepware server with a source
// project file.
package main

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	Execute()
}
