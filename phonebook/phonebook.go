// Package phonebook stores the numbers of an interface: the outgoing list
// dialed in round robin order and the incoming list of caller patterns.
package phonebook

import (
	"errors"
	"fmt"
	"strings"
)

// Direction selects one of the two lists
type Direction int

// phone list directions
const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// ParseDirection converts "in" or "out"
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "in", "incoming":
		return In, nil
	case "out", "outgoing":
		return Out, nil
	}
	return 0, fmt.Errorf("invalid direction: %v", s)
}

// MaxNumberLen is the longest number or pattern accepted
const MaxNumberLen = 32

// errors returned by the phone book
var (
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrEmpty         = errors.New("no outgoing numbers")
	ErrNotFound      = errors.New("number not found")
)

// Cursor is the dial position of an interface. Pos is the index of the
// next number to dial, Cycles counts how often the list wrapped.
type Cursor struct {
	Pos    int
	Cycles int
}

// Book holds the numbers of one interface. It is not safe for concurrent
// use; the dial engine serializes access.
type Book struct {
	in  []string
	out []string
}

// New returns an empty book
func New() *Book {
	return &Book{}
}

// Validate checks a number for the list d
func Validate(number string, d Direction) error {
	if number == "" || len(number) > MaxNumberLen {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	for _, c := range number {
		if c < ' ' || c > '~' || c == ' ' {
			return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
		}
	}
	if d == Out && strings.ContainsAny(number, "?*[]\\") {
		return fmt.Errorf("%w: wildcards not allowed in outgoing number %q",
			ErrInvalidNumber, number)
	}
	return nil
}

func (b *Book) list(d Direction) *[]string {
	if d == Out {
		return &b.out
	}
	return &b.in
}

// Add appends a number. Incoming entries may be wildcard patterns.
// Duplicates are ignored.
func (b *Book) Add(number string, d Direction) error {
	if err := Validate(number, d); err != nil {
		return err
	}
	l := b.list(d)
	for _, n := range *l {
		if n == number {
			return nil
		}
	}
	*l = append(*l, number)
	return nil
}

// Remove deletes a number
func (b *Book) Remove(number string, d Direction) error {
	l := b.list(d)
	for i, n := range *l {
		if n == number {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrNotFound, number)
}

// Clear removes all numbers of one direction
func (b *Book) Clear(d Direction) {
	*b.list(d) = nil
}

// Numbers returns a copy of one list in insertion order
func (b *Book) Numbers(d Direction) []string {
	l := *b.list(d)
	ret := make([]string, len(l))
	copy(ret, l)
	return ret
}

// Len returns the number of entries in one list
func (b *Book) Len(d Direction) int {
	return len(*b.list(d))
}

// NextOutgoing returns the number at the cursor and the advanced cursor.
// Wrapping back to the head increments Cycles. A cursor left past the end
// by a removal is wrapped first.
func (b *Book) NextOutgoing(c Cursor) (string, Cursor, error) {
	if len(b.out) == 0 {
		return "", c, ErrEmpty
	}
	if c.Pos < 0 || c.Pos >= len(b.out) {
		c.Pos = 0
	}
	number := b.out[c.Pos]
	c.Pos++
	if c.Pos >= len(b.out) {
		c.Pos = 0
		c.Cycles++
	}
	return number, c, nil
}

// MatchesIncoming checks a caller against the incoming list. Interfaces
// that are not secure accept everybody.
func (b *Book) MatchesIncoming(caller string, secure bool) bool {
	if !secure {
		return true
	}
	for _, p := range b.in {
		if Wildmat(caller, p) {
			return true
		}
	}
	return false
}
