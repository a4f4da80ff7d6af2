package mcpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// transport reads MCP messages in either newline-delimited JSON or
// Content-Length framing and answers in whichever style the client used
// first.
type transport struct {
	r *bufio.Reader
	w *bufio.Writer

	jsonLine   bool
	modeLocked bool
}

func newTransport(in io.Reader, out io.Writer) *transport {
	return &transport{r: bufio.NewReader(in), w: bufio.NewWriter(out)}
}

func (t *transport) read() ([]byte, error) {
	payload, jsonLine, err := readMessage(t.r)
	if err != nil {
		return nil, err
	}
	if !t.modeLocked {
		t.jsonLine = jsonLine
		t.modeLocked = true
	}
	return payload, nil
}

func (t *transport) mode() string {
	if t.jsonLine {
		return "jsonline"
	}
	return "framed"
}

func (t *transport) write(payload []byte) error {
	if t.jsonLine {
		if _, err := t.w.Write(payload); err != nil {
			return err
		}
		if err := t.w.WriteByte('\n'); err != nil {
			return err
		}
		return t.w.Flush()
	}

	if _, err := fmt.Fprintf(t.w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := t.w.Write(payload); err != nil {
		return err
	}
	return t.w.Flush()
}

// readMessage returns the next payload and whether it arrived as a JSON line.
func readMessage(r *bufio.Reader) ([]byte, bool, error) {
	line, err := r.ReadString('\n')
	for err == nil && strings.TrimSpace(line) == "" {
		line, err = r.ReadString('\n')
	}
	if err != nil {
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
			return nil, false, io.EOF
		}
		if !errors.Is(err, io.EOF) {
			return nil, false, err
		}
	}

	if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		payload, err := readJSONLines(r, line)
		return payload, true, err
	}

	payload, err := readFramed(r, line)
	return payload, false, err
}

// readJSONLines keeps reading until the accumulated text is one valid JSON
// value, so pretty-printed messages spanning lines still parse.
func readJSONLines(r *bufio.Reader, first string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(first)
	for {
		if candidate := bytes.TrimSpace(buf.Bytes()); json.Valid(candidate) {
			return candidate, nil
		}
		line, err := r.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			if candidate := bytes.TrimSpace(buf.Bytes()); json.Valid(candidate) {
				return candidate, nil
			}
			return nil, err
		}
	}
}

func readFramed(r *bufio.Reader, headerLine string) ([]byte, error) {
	contentLength := -1
	line := headerLine
	for {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if key, value, ok := strings.Cut(trimmed, ":"); ok && strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length: %q", value)
			}
			contentLength = n
		}

		var err error
		if line, err = r.ReadString('\n'); err != nil {
			return nil, err
		}
	}

	if contentLength < 0 {
		return nil, errors.New("missing Content-Length header")
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
