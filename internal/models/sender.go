package models

import (
	"database/sql/driver"
	"fmt"
)

// Sender identifies the author of a chat message. The zero value is invalid;
// only SenderUser and SenderBot exist.
type Sender uint8

const (
	SenderUser Sender = iota + 1
	SenderBot
)

// ParseSender converts the wire/storage form into a Sender.
func ParseSender(s string) (Sender, error) {
	switch s {
	case "user":
		return SenderUser, nil
	case "bot":
		return SenderBot, nil
	}
	return 0, fmt.Errorf("invalid sender %q", s)
}

func (s Sender) String() string {
	switch s {
	case SenderUser:
		return "user"
	case SenderBot:
		return "bot"
	}
	return fmt.Sprintf("Sender(%d)", uint8(s))
}

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

func (s Sender) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sender %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Sender) UnmarshalText(text []byte) error {
	parsed, err := ParseSender(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the sender as text.
func (s Sender) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sender %d", uint8(s))
	}
	return s.String(), nil
}

// Scan reads a sender stored as text.
func (s *Sender) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	}
	return fmt.Errorf("cannot scan %T into Sender", src)
}
