// Command ersctl inspects, dumps and restores ersdb databases.
package main

import (
	"os"
)

const Version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
