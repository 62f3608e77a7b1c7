//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// lineReader reads interactive input. On a terminal it puts stdin into raw
// mode for cursor movement and history; otherwise it reads plain lines.
type lineReader struct {
	in      *bufio.Reader
	tty     bool
	history []string
}

func newLineReader() *lineReader {
	return &lineReader{
		in:  bufio.NewReader(os.Stdin),
		tty: isTerminal(os.Stdin.Fd()),
	}
}

func (r *lineReader) readLine(prompt string) (string, error) {
	if !r.tty {
		fmt.Print(prompt)
		return readPlainLine(r.in)
	}

	fd := int(os.Stdin.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() { _ = unix.IoctlSetTermios(fd, unix.TCSETS, saved) }()

	ed := editor{prompt: prompt, hist: r.history, histPos: len(r.history)}
	fmt.Print(prompt)
	for {
		b, err := r.in.ReadByte()
		if err != nil {
			return "", err
		}
		line, done, err := ed.feed(b)
		if err != nil || !done {
			if err != nil {
				return "", err
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			r.history = append(r.history, line)
		}
		return line, nil
	}
}

// editor is the state of one line being edited in raw mode.
type editor struct {
	prompt string
	line   []byte
	cursor int

	esc    int
	escSeq strings.Builder

	hist    []string
	histPos int
	draft   string
}

// feed handles one input byte. done is true once the line is submitted.
func (e *editor) feed(b byte) (line string, done bool, err error) {
	switch e.esc {
	case 1:
		e.esc = 0
		switch b {
		case '[':
			e.esc = 2
			e.escSeq.Reset()
		case 'b', 'B':
			e.wordLeft()
		case 'f', 'F':
			e.wordRight()
		case 127:
			e.deleteWordBack()
		}
		return "", false, nil
	case 2:
		e.escSeq.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.esc = 0
			e.csi(e.escSeq.String())
		}
		return "", false, nil
	}

	switch b {
	case 27:
		e.esc = 1
	case '\r', '\n':
		fmt.Print("\r\n")
		return string(e.line), true, nil
	case 3: // Ctrl+C
		fmt.Print("^C\r\n")
		return "", false, io.EOF
	case 4: // Ctrl+D
		if len(e.line) == 0 {
			fmt.Print("\r\n")
			return "", false, io.EOF
		}
	case 127, 8:
		if e.cursor > 0 {
			e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
			e.cursor--
			e.redraw()
		}
	case 1: // Ctrl+A
		e.cursor = 0
		e.redraw()
	case 5: // Ctrl+E
		e.cursor = len(e.line)
		e.redraw()
	case 23: // Ctrl+W
		e.deleteWordBack()
	default:
		if b >= 32 {
			e.line = append(e.line, 0)
			copy(e.line[e.cursor+1:], e.line[e.cursor:])
			e.line[e.cursor] = b
			e.cursor++
			e.redraw()
		}
	}
	return "", false, nil
}

func (e *editor) csi(seq string) {
	switch seq {
	case "A":
		e.historyPrev()
	case "B":
		e.historyNext()
	case "D":
		if e.cursor > 0 {
			e.cursor--
			e.redraw()
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			e.redraw()
		}
	case "H":
		e.cursor = 0
		e.redraw()
	case "F":
		e.cursor = len(e.line)
		e.redraw()
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	case "1;5D", "5D":
		e.wordLeft()
	case "1;5C", "5C":
		e.wordRight()
	}
}

func (e *editor) historyPrev() {
	if e.histPos == 0 {
		return
	}
	if e.histPos == len(e.hist) {
		e.draft = string(e.line)
	}
	e.histPos--
	e.set(e.hist[e.histPos])
}

func (e *editor) historyNext() {
	if e.histPos >= len(e.hist) {
		return
	}
	e.histPos++
	if e.histPos == len(e.hist) {
		e.set(e.draft)
		return
	}
	e.set(e.hist[e.histPos])
}

func (e *editor) set(s string) {
	e.line = append(e.line[:0], s...)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *editor) wordLeft() {
	for e.cursor > 0 && isBlank(e.line[e.cursor-1]) {
		e.cursor--
	}
	for e.cursor > 0 && !isBlank(e.line[e.cursor-1]) {
		e.cursor--
	}
	e.redraw()
}

func (e *editor) wordRight() {
	for e.cursor < len(e.line) && isBlank(e.line[e.cursor]) {
		e.cursor++
	}
	for e.cursor < len(e.line) && !isBlank(e.line[e.cursor]) {
		e.cursor++
	}
	e.redraw()
}

func (e *editor) deleteWordBack() {
	start := e.cursor
	for start > 0 && isBlank(e.line[start-1]) {
		start--
	}
	for start > 0 && !isBlank(e.line[start-1]) {
		start--
	}
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	e.redraw()
}

func (e *editor) redraw() {
	fmt.Printf("\r%s%s\x1b[K", e.prompt, e.line)
	if e.cursor < len(e.line) {
		fmt.Printf("\r%s%s", e.prompt, e.line[:e.cursor])
	}
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }
