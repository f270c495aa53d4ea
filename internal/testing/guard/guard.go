// Package guard switches binaries into test mode when imported by tests, so
// package main tests never dial real backends.
package guard

import "os"

func init() {
	if os.Getenv("ODYSSEY_TEST_MODE") == "" {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	}
}
