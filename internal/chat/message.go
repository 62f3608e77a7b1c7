package chat

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Role identifies the author of a Message.
type Role uint8

const (
	System Role = iota
	User
	Assistant
)

var roleNames = [...]string{
	System:    "system",
	User:      "user",
	Assistant: "assistant",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Title is the role name with its first character upper-cased.
func (r Role) Title() string {
	return capitalize(r.String())
}

// ParseRole accepts the lower-case role names, ignoring case and
// surrounding space.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return System, nil
	case "user":
		return User, nil
	case "assistant":
		return Assistant, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if int(r) >= len(roleNames) {
		return nil, fmt.Errorf("unknown role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (m Message) String() string {
	return m.Role.String() + ": " + m.Content
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
