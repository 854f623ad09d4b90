// Package cw implements the Morse signal codec: the symbol table, timing profile,
// the streaming sample decoder and the intensity threshold adviser.
package cw

import (
	"errors"
	"fmt"
	"sort"
	"unicode"
)

// Symbol elements of a Code
const (
	Dot  = '.'
	Dash = '-'
)

// MaxCodeLength is the longest code a Table accepts.
// Five elements keep the reverse tree at 64 slots and cover A-Z and 0-9.
const MaxCodeLength = 5

// treeSize is the number of slots in the reverse lookup tree.
// Parent at i, dot child at 2i, dash child at 2i+1, root at 1.
const treeSize = 1 << (MaxCodeLength + 1)

var (
	// ErrUnknownCharacter indicates a character has no code in the table
	ErrUnknownCharacter = errors.New("unknown character")
	// ErrUnknownSequence indicates a dot/dash group has no character in the table
	ErrUnknownSequence = errors.New("unknown sequence")
	// ErrInvalidCode indicates a table entry is empty, too long or has foreign symbols
	ErrInvalidCode = errors.New("invalid code")
	// ErrDuplicateCode indicates two characters share the same code
	ErrDuplicateCode = errors.New("duplicate code")
)

// Code is a sequence of Dot and Dash symbols, e.g. "-.-."
type Code string

// UnknownCharacterError reports the character that could not be encoded.
type UnknownCharacterError struct {
	Char rune
}

func (e *UnknownCharacterError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownCharacter, e.Char)
}

// Is reports whether target is ErrUnknownCharacter.
func (e *UnknownCharacterError) Is(target error) bool {
	return target == ErrUnknownCharacter
}

// UnknownSequenceError reports the symbol group that could not be decoded.
type UnknownSequenceError struct {
	Code Code
}

func (e *UnknownSequenceError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownSequence, string(e.Code))
}

// Is reports whether target is ErrUnknownSequence.
func (e *UnknownSequenceError) Is(target error) bool {
	return target == ErrUnknownSequence
}

// ITU is the forward mapping for letters and digits.
var ITU = map[rune]Code{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..",
	'E': ".", 'F': "..-.", 'G': "--.", 'H': "....",
	'I': "..", 'J': ".---", 'K': "-.-", 'L': ".-..",
	'M': "--", 'N': "-.", 'O': "---", 'P': ".--.",
	'Q': "--.-", 'R': ".-.", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-",
	'Y': "-.--", 'Z': "--..",
	'0': "-----", '1': ".----", '2': "..---", '3': "...--",
	'4': "....-", '5': ".....", '6': "-....", '7': "--...",
	'8': "---..", '9': "----.",
}

// Standard is the table built from ITU. A broken ITU map panics at startup.
var Standard = MustTable(ITU)

// Table is an immutable bidirectional mapping between characters and codes.
type Table struct {
	forward map[rune]Code
	// tree is the reverse mapping, derived from forward at construction
	tree [treeSize]rune
}

// NewTable builds a table and verifies every code is valid and unique.
func NewTable(codes map[rune]Code) (*Table, error) {
	t := &Table{forward: make(map[rune]Code, len(codes))}

	for char, code := range codes {
		idx, ok := treeIndex(code)
		if !ok {
			return nil, fmt.Errorf("%w: %q for %q", ErrInvalidCode, string(code), char)
		}
		if prev := t.tree[idx]; prev != 0 {
			return nil, fmt.Errorf("%w: %q used by %q and %q", ErrDuplicateCode, string(code), prev, char)
		}
		t.tree[idx] = char
		t.forward[char] = code
	}

	return t, nil
}

// MustTable is NewTable that panics on error. A bad table is a programming error.
func MustTable(codes map[rune]Code) *Table {
	t, err := NewTable(codes)
	if err != nil {
		panic(fmt.Sprintf("cw: %v", err))
	}
	return t
}

// Encode returns the code for a character. Lowercase letters use their uppercase entry.
func (t *Table) Encode(char rune) (Code, error) {
	if code, ok := t.forward[char]; ok {
		return code, nil
	}
	if code, ok := t.forward[unicode.ToUpper(char)]; ok {
		return code, nil
	}
	return "", &UnknownCharacterError{Char: char}
}

// Decode returns the character for a code.
func (t *Table) Decode(code Code) (rune, error) {
	idx, ok := treeIndex(code)
	if !ok || t.tree[idx] == 0 {
		return 0, &UnknownSequenceError{Code: code}
	}
	return t.tree[idx], nil
}

// Has reports whether the character can be encoded.
func (t *Table) Has(char rune) bool {
	_, err := t.Encode(char)
	return err == nil
}

// Characters returns the table's characters in ascending order.
func (t *Table) Characters() []rune {
	chars := make([]rune, 0, len(t.forward))
	for c := range t.forward {
		chars = append(chars, c)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return chars
}

// Len returns the number of characters in the table.
func (t *Table) Len() int {
	return len(t.forward)
}

// treeIndex walks the reverse tree: dot goes left (2i), dash goes right (2i+1).
func treeIndex(code Code) (int, bool) {
	if len(code) == 0 || len(code) > MaxCodeLength {
		return 0, false
	}
	idx := 1
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case Dot:
			idx = idx * 2
		case Dash:
			idx = idx*2 + 1
		default:
			return 0, false
		}
	}
	return idx, true
}
