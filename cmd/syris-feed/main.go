// Package main implements syris-feed, a command line client for the SYRIS
// observability feed.
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "syris-feed"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}
