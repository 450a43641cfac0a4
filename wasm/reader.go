package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// reader wraps a byte slice with position tracking and wasm-specific reads.
type reader struct {
	r    *bytes.Reader
	base int // offset of this reader's data within the whole module
}

func newReader(data []byte, base int) *reader {
	return &reader{r: bytes.NewReader(data), base: base}
}

// position returns the absolute byte offset within the module.
func (r *reader) position() int {
	return r.base + int(r.r.Size()) - r.r.Len()
}

func (r *reader) remaining() int {
	return r.r.Len()
}

func (r *reader) ReadByte() (byte, error) {
	return r.r.ReadByte()
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n > r.r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *reader) readU32() (uint32, error) {
	return ReadLEB128u(r)
}

func (r *reader) readName() (string, error) {
	length, err := r.readU32()
	if err != nil {
		return "", err
	}
	data, err := r.readBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.New("invalid UTF-8 in name")
	}
	return string(data), nil
}

func (r *reader) readU32LE() (uint32, error) {
	buf, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *reader) readRemaining() ([]byte, error) {
	return r.readBytes(r.r.Len())
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (r *reader) wrapError(section string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{
		Position: r.position(),
		Section:  section,
		Err:      err,
	}
}
