package parser

import (
	"bufio"
	"io"
)

// Scanner yields decoded records from a trace, one per non-comment line,
// in file order. Blank and comment lines are consumed silently.
//
// A Scanner is not safe for concurrent use.
type Scanner struct {
	reader *bufio.Reader
	line   int
	bytes  int64
	rec    Record
	err    error
	done   bool
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader, cfg Config) *Scanner {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	return &Scanner{reader: bufio.NewReaderSize(r, size)}
}

// Scan advances to the next record. It returns false at end of input or
// on a read error; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	if s.done {
		return false
	}

	for {
		text, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			s.err = err
			s.done = true
			return false
		}
		if len(text) == 0 && err == io.EOF {
			s.done = true
			return false
		}

		s.line++
		s.bytes += int64(len(text))

		if !IsSkippable(text) {
			s.rec = Decode(Tokenize(text))
			s.rec.Line = s.line
			if err == io.EOF {
				s.done = true
			}
			return true
		}

		if err == io.EOF {
			s.done = true
			return false
		}
	}
}

// Record returns the record produced by the last successful Scan.
func (s *Scanner) Record() Record {
	return s.rec
}

// Line returns the number of lines consumed so far, including skipped ones.
func (s *Scanner) Line() int {
	return s.line
}

// BytesRead returns the number of bytes consumed so far.
func (s *Scanner) BytesRead() int64 {
	return s.bytes
}

// Err returns the first read error, or nil at a clean end of input.
func (s *Scanner) Err() error {
	return s.err
}
