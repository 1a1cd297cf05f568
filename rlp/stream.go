package rlp

import (
	"errors"
	"io"
	"math/big"
)

var (
	// ErrExpectedString is returned when a list sits where a string should.
	ErrExpectedString = errors.New("rlp: expected string")

	// ErrExpectedList is returned when a string sits where a list should.
	ErrExpectedList = errors.New("rlp: expected list")

	// ErrCanonSize is returned for a non-canonical size prefix: a long form
	// where the short form fits, or a size with leading zero bytes.
	ErrCanonSize = errors.New("rlp: non-canonical size")

	// ErrCanonInt is returned for an integer encoded with leading zeros.
	ErrCanonInt = errors.New("rlp: non-canonical integer")

	// ErrUint64Range is returned when a decoded integer overflows uint64.
	ErrUint64Range = errors.New("rlp: uint64 overflow")

	// ErrEOL is returned by ListEnd when the current list has unread items.
	ErrEOL = errors.New("rlp: end of list mismatch")
)

// Stream reads RLP items from a byte slice. List opens a scope: reads are
// then bounded by that list until ListEnd, and MoreDataInList reports
// whether the scope has items left. Header decoding leans on that check for
// the optional base-fee/withdrawals/blob/beacon-root tail.
type Stream struct {
	data []byte
	pos  int
	ends []int // open list scopes, innermost last
}

// NewStreamFromBytes creates a Stream over b.
func NewStreamFromBytes(b []byte) *Stream {
	return &Stream{data: b}
}

// Bytes reads the next item as a byte string.
func (s *Stream) Bytes() ([]byte, error) {
	payload, isList, err := s.next()
	if err != nil {
		return nil, err
	}
	if isList {
		return nil, ErrExpectedString
	}
	return payload, nil
}

// Uint64 reads the next item as a canonical unsigned integer.
func (s *Stream) Uint64() (uint64, error) {
	b, err := s.Bytes()
	if err != nil {
		return 0, err
	}
	switch {
	case len(b) == 0:
		return 0, nil
	case len(b) > 8:
		return 0, ErrUint64Range
	case b[0] == 0:
		return 0, ErrCanonInt
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

// BigInt reads the next item as a canonical big integer.
func (s *Stream) BigInt() (*big.Int, error) {
	b, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	if len(b) > 1 && b[0] == 0 {
		return nil, ErrCanonInt
	}
	return new(big.Int).SetBytes(b), nil
}

// List enters the next item, which must be a list, and returns its payload
// size. Subsequent reads are scoped to the list until ListEnd.
func (s *Stream) List() (uint64, error) {
	start := s.pos
	payload, isList, err := s.next()
	if err != nil {
		return 0, err
	}
	if !isList {
		s.pos = start
		return 0, ErrExpectedList
	}
	// next() skipped the whole list; rewind into its payload and scope it.
	s.ends = append(s.ends, s.pos)
	s.pos = s.pos - len(payload)
	return uint64(len(payload)), nil
}

// ListEnd closes the innermost list scope. Every item must have been read.
func (s *Stream) ListEnd() error {
	if len(s.ends) == 0 {
		return ErrExpectedList
	}
	if s.pos != s.ends[len(s.ends)-1] {
		return ErrEOL
	}
	s.ends = s.ends[:len(s.ends)-1]
	return nil
}

// MoreDataInList reports whether the current list scope has unread items.
// Outside any scope it reports whether the stream has unread bytes.
func (s *Stream) MoreDataInList() bool {
	return s.pos < s.limit()
}

func (s *Stream) limit() int {
	if len(s.ends) > 0 {
		return s.ends[len(s.ends)-1]
	}
	return len(s.data)
}

// next consumes one complete item and returns its payload. For a list the
// payload is the raw concatenation of its items.
func (s *Stream) next() (payload []byte, isList bool, err error) {
	lim := s.limit()
	if s.pos >= lim {
		return nil, false, io.EOF
	}
	prefix := s.data[s.pos]

	var base byte
	switch {
	case prefix <= 0x7f:
		s.pos++
		return s.data[s.pos-1 : s.pos], false, nil
	case prefix <= 0xbf:
		base = 0x80
	default:
		base = 0xc0
		isList = true
	}

	var size, headLen int
	if n := int(prefix - base); n <= 55 {
		size, headLen = n, 1
	} else {
		lenOfLen := n - 55
		if s.pos+1+lenOfLen > lim {
			return nil, false, io.ErrUnexpectedEOF
		}
		sizeBytes := s.data[s.pos+1 : s.pos+1+lenOfLen]
		if sizeBytes[0] == 0 {
			return nil, false, ErrCanonSize
		}
		if len(sizeBytes) > 8 {
			return nil, false, ErrUint64Range
		}
		for _, x := range sizeBytes {
			size = size<<8 | int(x)
		}
		if size <= 55 {
			return nil, false, ErrCanonSize
		}
		headLen = 1 + lenOfLen
	}

	start := s.pos + headLen
	end := start + size
	if end > lim || end < start {
		return nil, false, io.ErrUnexpectedEOF
	}
	if !isList && size == 1 && s.data[start] <= 0x7f {
		return nil, false, ErrCanonSize
	}
	s.pos = end
	return s.data[start:end], isList, nil
}
