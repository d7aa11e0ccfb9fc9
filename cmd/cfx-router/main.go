// cfx-router is an authoritative OpenAI-compatible gateway that sits in
// front of an upstream model multiplexer, enforcing API keys, daily quotas,
// streaming concurrency, and stage-based model routing.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cfx-router", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
