package config

import (
	"fmt"
	"os"
)

// Exitf prints the formatted message to stderr and terminates the process
// with exit code 1. Entry points use it for fatal startup failures so the
// shell sees a clean one-line error without a log timestamp.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
