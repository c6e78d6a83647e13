// Package main is riskctl, the command-line front end of the risk engine.
// It runs analyses locally over JSON input files, without a server.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
