//go:build unix

package main

import (
	"os"
	"syscall"
)

var beginSignals = []os.Signal{syscall.SIGUSR1}
