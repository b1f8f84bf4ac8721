// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxEventSize is the largest single SSE event accepted.
const MaxEventSize = 64 * 1024

var (
	// ErrEventTooLarge is returned when an SSE event or line exceeds
	// MaxEventSize.
	ErrEventTooLarge = errors.New("sse event exceeds size limit")

	// ErrBodyTooLarge is returned when a stream exceeds MaxResponseSize.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
)

// sseReader parses Server-Sent Events from a response body.
type sseReader struct {
	reader *bufio.Reader
	total  int64
	// head keeps the first MaxEventSize bytes of the body for error reports.
	head []byte
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// Head returns the start of the body read so far.
func (s *sseReader) Head() []byte {
	return s.head
}

// readLine reads one line including its newline. Lines longer than
// MaxEventSize and bodies longer than MaxResponseSize are errors.
func (s *sseReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		line = append(line, chunk...)
		s.total += int64(len(chunk))
		if room := MaxEventSize - len(s.head); room > 0 {
			s.head = append(s.head, chunk[:min(room, len(chunk))]...)
		}
		if s.total > MaxResponseSize {
			return nil, ErrBodyTooLarge
		}
		if len(line) > MaxEventSize+len("data: \r\n") {
			return nil, ErrEventTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// ReadEvent returns the event type and the joined data lines of the next
// event. Comments and id/retry fields are skipped. At the end of the body it
// returns any pending data first, then io.EOF.
func (s *sseReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			if errors.Is(err, io.EOF) && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			data = bytes.TrimPrefix(data, []byte(" "))
			size += len(data)
			if size > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}

		// A final line without a trailing newline ends the body.
		if err != nil {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, io.EOF
		}
	}
}
