//go:build linux

package main

import (
	"errors"
	"io"
	"testing"
)

func feedAll(t *testing.T, e *editor, input string) (string, bool, error) {
	t.Helper()
	for i := 0; i < len(input); i++ {
		line, done, err := e.feed(input[i])
		if err != nil || done {
			return line, done, err
		}
	}
	return "", false, nil
}

func TestEditorFeed(t *testing.T) {
	tests := []struct {
		name  string
		hist  []string
		input string
		want  string
	}{
		{name: "plain", input: "hello\r", want: "hello"},
		{name: "backspace", input: "hel\x7f\x7fello\r", want: "hello"},
		{name: "insert after left arrow", input: "hllo\x1b[D\x1b[D\x1b[De\r", want: "hello"},
		{name: "home then type", input: "world\x01hello \r", want: "hello world"},
		{name: "ctrl-w deletes word", input: "one two\x17three\r", want: "one three"},
		{name: "history up", hist: []string{"first", "second"}, input: "\x1b[A\x1b[A\r", want: "first"},
		{name: "history down restores draft", hist: []string{"first"}, input: "dr\x1b[A\x1b[B\r", want: "dr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &editor{hist: tt.hist, histPos: len(tt.hist)}
			got, done, err := feedAll(t, e, tt.input)
			if err != nil {
				t.Fatalf("feed: %v", err)
			}
			if !done {
				t.Fatalf("line not submitted")
			}
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestEditorEOF(t *testing.T) {
	e := &editor{}
	if _, _, err := e.feed(4); !errors.Is(err, io.EOF) {
		t.Fatalf("ctrl-d on empty line: expected EOF, got %v", err)
	}
	e = &editor{}
	if _, _, err := feedAll(t, e, "abc\x03"); !errors.Is(err, io.EOF) {
		t.Fatalf("ctrl-c: expected EOF, got %v", err)
	}
}
