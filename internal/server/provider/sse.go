package provider

import (
	"bufio"
	"bytes"
	"io"
)

// MaxEventSize bounds a single SSE line.
const MaxEventSize = 1 << 20

// SSEReader parses Server-Sent Events.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxEventSize)
	return &SSEReader{scanner: s}
}

// ReadEvent returns the next event type and its data lines joined by "\n".
// Comments and id/retry fields are skipped. It returns io.EOF at the end of
// the stream.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var event string
	var data [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")
		if len(line) == 0 {
			if len(data) > 0 {
				return event, bytes.Join(data, []byte("\n")), nil
			}
			event = ""
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			v := line[len("data:"):]
			v = bytes.TrimPrefix(v, []byte(" "))
			data = append(data, append([]byte(nil), v...))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	if len(data) > 0 {
		return event, bytes.Join(data, []byte("\n")), nil
	}
	return "", nil, io.EOF
}
