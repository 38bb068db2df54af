package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
)

// DoneSentinel terminates a chat completion stream.
const DoneSentinel = "[DONE]"

const maxStreamLine = 1 << 20

// StreamDecoder reads "data: <json>" lines into completion chunks.
//
//	for dec.Next() {
//		chunk := dec.Current()
//	}
//	if err := dec.Err(); err != nil { ... }
type StreamDecoder struct {
	scanner *bufio.Scanner
	current openai.ChatCompletionChunk
	done    bool
	err     error
}

// NewStreamDecoder creates a decoder reading from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	return &StreamDecoder{scanner: scanner}
}

// Next advances to the next chunk. It returns false at the sentinel, at
// the end of input, or on error.
func (d *StreamDecoder) Next() bool {
	if d.done || d.err != nil {
		return false
	}

	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Blank separators, comments, event: and id: lines.
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		if payload == DoneSentinel {
			d.done = true
			return false
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.err = fmt.Errorf("decode stream chunk: %w", err)
			return false
		}
		d.current = chunk
		return true
	}

	if err := d.scanner.Err(); err != nil {
		d.err = fmt.Errorf("read stream: %w", err)
	}
	d.done = true
	return false
}

// Current returns the chunk read by the last successful Next.
func (d *StreamDecoder) Current() openai.ChatCompletionChunk {
	return d.current
}

// Err returns the first decode or read error.
func (d *StreamDecoder) Err() error {
	return d.err
}

// ReadStream decodes a whole stream, calling onChunk for each non-empty
// content delta in order. It returns the concatenated content.
func ReadStream(r io.Reader, onChunk func(string)) (string, error) {
	dec := NewStreamDecoder(r)

	var b strings.Builder
	for dec.Next() {
		for _, choice := range dec.Current().Choices {
			if choice.Delta.Content == "" {
				continue
			}
			b.WriteString(choice.Delta.Content)
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}
	}

	if err := dec.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}
