// CTAP HID device emulator.
// Brings up the software USB stack against an in-memory controller and
// drives it from an emulated host.

package main

import (
	"os"

	"github.com/ardnew/softctap/cmd/ctapemu/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
