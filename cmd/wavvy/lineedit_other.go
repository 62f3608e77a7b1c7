//go:build !linux

package main

import (
	"bufio"
	"fmt"
	"os"
)

type lineReader struct {
	in *bufio.Reader
}

func newLineReader() *lineReader {
	return &lineReader{in: bufio.NewReader(os.Stdin)}
}

func (r *lineReader) readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	return readPlainLine(r.in)
}
