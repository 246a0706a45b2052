// Package main provides the proxyauth command.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}
