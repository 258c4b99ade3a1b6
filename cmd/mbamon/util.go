package main

import (
	"fmt"
	"os"
)

// Fatalf prints a formatted error to stderr and exits with status 1,
// matching the util.Fatalf helper runsc/cmd commands call on
// unrecoverable errors.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mbamon: "+format+"\n", args...)
	os.Exit(1)
}
