// ABOUTME: Client-side reader that decodes a text/event-stream body back into stream events.
// ABOUTME: Handles CR, LF and CRLF line endings, comments, and multi-line data fields.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Reader decodes events from an SSE body.
type Reader struct {
	br   *bufio.Reader
	done bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next event, or io.EOF at the end of the stream. A frame
// whose "event:" name disagrees with its payload type uses the name.
func (r *Reader) Next() (Event, error) {
	if r.done {
		return Event{}, io.EOF
	}
	var (
		name string
		data []string
	)
	for {
		line, err := r.readLine()
		if errors.Is(err, io.EOF) {
			r.done = true
			if len(data) > 0 {
				return decode(name, data)
			}
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, err
		}

		if line == "" {
			if len(data) == 0 {
				continue
			}
			return decode(name, data)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
}

func decode(name string, data []string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &e); err != nil {
		return Event{}, fmt.Errorf("decode stream event: %w", err)
	}
	if name != "" && name != "message" {
		e.Type = Kind(name)
	}
	return e, nil
}

func (r *Reader) readLine() (string, error) {
	var line strings.Builder
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && line.Len() > 0 {
				return line.String(), nil
			}
			return "", err
		}
		switch b {
		case '\n':
			return line.String(), nil
		case '\r':
			if next, err := r.br.ReadByte(); err == nil && next != '\n' {
				_ = r.br.UnreadByte()
			}
			return line.String(), nil
		}
		line.WriteByte(b)
	}
}

// ReadAll drains r until EOF or a terminal event, calling fn for each event.
func ReadAll(r io.Reader, fn func(Event) error) error {
	rd := NewReader(r)
	for {
		e, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.Terminal() {
			return nil
		}
	}
}
