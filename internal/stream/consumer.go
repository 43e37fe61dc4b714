// Package stream reconstructs assistant text from a relayed completion stream.
//
// The relay passes the upstream body through byte-for-byte; this package is
// the consuming side of that contract. Frames are newline-delimited, each
// content line prefixed with "data: " and carrying a JSON completion event.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"vaultchat/internal/logger"
)

// Source is an inline citation attached to an assistant delta when web search
// augmentation was active for the request.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Event is the wire shape of a single streamed completion chunk.
type Event struct {
	Choices []struct {
		Delta struct {
			Content string   `json:"content"`
			Sources []Source `json:"sources"`
		} `json:"delta"`
	} `json:"choices"`
}

const doneMarker = "[DONE]"

// Consumer incrementally reconstructs assistant text from a relayed stream.
// OnUpdate receives the accumulated text after every content delta. OnComplete
// fires exactly once when the stream ends cleanly. OnError fires instead of
// OnComplete when the underlying read fails; accumulated text is not applied.
type Consumer struct {
	OnUpdate   func(text string)
	OnComplete func(text string, sources []Source, rateLimited bool)
	OnError    func(msg string)
}

// Consume reads the stream to completion. rateLimited carries the rate-limit
// signal decoded from the relay's response headers, so the streaming body
// itself stays a pure pass-through.
func (c *Consumer) Consume(r io.Reader, rateLimited bool) {
	var (
		text    strings.Builder
		sources []Source
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")
		if payload == doneMarker {
			// Terminator frame; completion fires at end of stream.
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			logger.Log.WithError(err).Warn("Skipping unparsable stream frame")
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}

		delta := event.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if c.OnUpdate != nil {
				c.OnUpdate(text.String())
			}
		}
		// Citations are cumulative upstream: the last-seen list wins outright.
		if delta.Sources != nil {
			sources = delta.Sources
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Log.WithError(err).Error("Stream read failed")
		if c.OnError != nil {
			c.OnError(err.Error())
		}
		return
	}

	if c.OnComplete != nil {
		c.OnComplete(text.String(), sources, rateLimited)
	}
}
