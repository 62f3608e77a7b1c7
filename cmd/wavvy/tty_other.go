//go:build !linux

package main

import "os"

func isTerminal(fd uintptr) bool {
	f := os.NewFile(fd, "")
	if f == nil {
		return false
	}
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
