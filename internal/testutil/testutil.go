// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testutil holds small helpers for the queue package tests.
package testutil

import (
	"log"
	"os"
)

func init() {
	// For tests, the date is irrelevant, but microseconds are.
	log.SetFlags(log.Lmicroseconds)
}

// Verbose returns true if the test run asked for verbose device
// logging via DEBUG=1.
func Verbose() bool {
	return os.Getenv("DEBUG") == "1"
}
