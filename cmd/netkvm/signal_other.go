//go:build !unix

package main

import "os"

var beginSignals []os.Signal
