package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/chatrelay/internal/observability"
)

// errSkipFrame marks a frame with no recognizable text.
var errSkipFrame = errors.New("unrecognized frame")

// path addresses a value inside a decoded JSON frame. String segments index
// objects, int segments index arrays and "*" joins every array element.
type path []any

// frameRules is a provider's decode table. The first text path that resolves
// wins; a resolved error path fails the stream with the provider message.
type frameRules struct {
	text   []path
	errors []path
}

// decode applies the rules to a raw JSON frame.
func (r frameRules) decode(frame []byte) (string, error) {
	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		return "", errSkipFrame
	}
	return r.decodeValue(v)
}

func (r frameRules) decodeValue(v any) (string, error) {
	for _, p := range r.errors {
		if msg, ok := p.resolve(v); ok && msg != "" {
			return "", fmt.Errorf("provider error: %s", msg)
		}
	}
	for _, p := range r.text {
		if text, ok := p.resolve(v); ok {
			return text, nil
		}
	}
	return "", errSkipFrame
}

func (p path) resolve(v any) (string, bool) {
	cur := v
	for i, seg := range p {
		switch s := seg.(type) {
		case string:
			if s == "*" {
				arr, ok := cur.([]any)
				if !ok {
					return "", false
				}
				var b strings.Builder
				found := false
				for _, el := range arr {
					if text, ok := p[i+1:].resolve(el); ok {
						b.WriteString(text)
						found = true
					}
				}
				return b.String(), found
			}
			obj, ok := cur.(map[string]any)
			if !ok {
				return "", false
			}
			if cur, ok = obj[s]; !ok {
				return "", false
			}
		case int:
			arr, ok := cur.([]any)
			if !ok || s >= len(arr) {
				return "", false
			}
			cur = arr[s]
		default:
			return "", false
		}
	}
	text, ok := cur.(string)
	return text, ok
}

// frameReader yields raw frames from a response body.
type frameReader interface {
	next() ([]byte, error)
}

// sseReader reads "data:" payloads from a server-sent event stream.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReader(r)}
}

func (s *sseReader) next() ([]byte, error) {
	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil, io.EOF
			}
			if data != "" {
				return []byte(data), nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// ndjsonReader reads newline-delimited JSON objects.
type ndjsonReader struct {
	scanner *bufio.Scanner
}

func newNDJSONReader(r io.Reader) *ndjsonReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ndjsonReader{scanner: scanner}
}

func (n *ndjsonReader) next() ([]byte, error) {
	for n.scanner.Scan() {
		line := strings.TrimSpace(n.scanner.Text())
		if line != "" {
			return []byte(line), nil
		}
	}
	if err := n.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return nil, io.EOF
}

// frameStream decodes frames from an HTTP response body.
type frameStream struct {
	provider string
	body     io.ReadCloser
	frames   frameReader
	rules    frameRules
	// stop reports whether a decoded frame ends the stream.
	stop func(frame []byte) bool
	done bool
}

func (s *frameStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	frame, err := s.frames.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", fmt.Errorf("failed to read stream: %w", err)
	}
	if s.stop != nil && s.stop(frame) {
		s.done = true
	}

	text, err := s.rules.decode(frame)
	if errors.Is(err, errSkipFrame) {
		observability.Logger().Debug("skipping frame", "provider", s.provider, "frame", truncate(string(frame), 200))
		return "", nil
	}
	return text, err
}

func (s *frameStream) Close() error {
	return s.body.Close()
}

// truncate shortens s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
