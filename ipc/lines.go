package ipc

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// LineDecoder reads newline-delimited text from a tool's output stream.
// Lines have no length limit; CRLF endings are normalized.
type LineDecoder struct {
	reader *bufio.Reader
}

// NewLineDecoder creates a new line decoder.
func NewLineDecoder(r io.Reader) *LineDecoder {
	return &LineDecoder{reader: bufio.NewReader(r)}
}

// ReadLine returns the next line without its terminator.
//
// Errors:
//   - io.EOF: stream ended and no partial line remains
//   - any other read error from the underlying stream
//
// A final line without a trailing newline is returned with a nil error;
// the following call returns io.EOF.
func (d *LineDecoder) ReadLine() (string, error) {
	line, err := d.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return trimEOL(line), nil
		}
		return "", err
	}
	return trimEOL(line), nil
}

// ReadAll drains the stream, calling fn for each line when fn is non-nil.
// Returns every line read, including those read before an error.
func (d *LineDecoder) ReadAll(fn func(string)) ([]string, error) {
	var lines []string
	for {
		line, err := d.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return lines, err
		}
		lines = append(lines, line)
		if fn != nil {
			fn(line)
		}
	}
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
