package protocol

import "fmt"

// EncodingError is returned when a string field cannot be described by its
// one-byte length prefix.
type EncodingError struct {
	Field  string
	Length int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %d bytes exceeds limit of %d", e.Field, e.Length, MaxStringLength)
}

// TruncatedInputError is returned when fewer bytes remain than the next field requires.
type TruncatedInputError struct {
	Field string
	Need  int
	Have  int
}

func (e *TruncatedInputError) Error() string {
	return fmt.Sprintf("decode %s: need %d bytes, have %d", e.Field, e.Need, e.Have)
}

// MalformedTextError is returned when a string field holds invalid UTF-8.
type MalformedTextError struct {
	Field string
}

func (e *MalformedTextError) Error() string {
	return fmt.Sprintf("decode %s: invalid UTF-8", e.Field)
}
