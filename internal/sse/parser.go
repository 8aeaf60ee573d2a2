// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"strings"
)

// =============================================================================
// RECORD TYPE
// =============================================================================

// DefaultEvent is the record type used when a block has no "event:" line.
const DefaultEvent = "message"

// Record is a single decoded server event: an event-type label and the raw
// payload text, before any JSON interpretation. Records are consumed exactly
// once and never persisted.
type Record struct {
	Event string
	Data  string
}

// =============================================================================
// PARSER
// =============================================================================

// Parser incrementally decodes an event stream. It keeps a carry-over buffer
// for blocks that span chunk boundaries, so callers can feed chunks exactly
// as they arrive from the transport.
//
// A Parser is single-use: construct a new one per stream. It is not safe for
// concurrent use; the stream consumer owns it for the duration of one turn.
type Parser struct {
	carry strings.Builder
}

// NewParser creates a parser for one event stream.
func NewParser() *Parser {
	return &Parser{}
}

// ProcessChunk appends a raw chunk and returns all records completed by it.
// An empty chunk yields no records; a chunk containing several complete
// blocks yields them all, in order. Incomplete trailing data is retained
// until a later chunk terminates it.
func (p *Parser) ProcessChunk(chunk []byte) []Record {
	if len(chunk) == 0 {
		return nil
	}

	p.carry.Write(chunk)
	buffered := p.carry.String()

	// Normalize CRLF so block splitting only deals with "\n\n".
	normalized := strings.ReplaceAll(buffered, "\r\n", "\n")

	blocks := strings.Split(normalized, "\n\n")
	if len(blocks) == 1 {
		// No terminator seen yet; everything stays in carry-over.
		return nil
	}

	// The final element is the unterminated remainder.
	remainder := blocks[len(blocks)-1]
	blocks = blocks[:len(blocks)-1]

	p.carry.Reset()
	p.carry.WriteString(remainder)

	var records []Record
	for _, block := range blocks {
		if rec, ok := parseBlock(block); ok {
			records = append(records, rec)
		}
	}
	return records
}

// parseBlock decodes one terminated block into a record.
// Returns ok=false for blocks with no data and no event line (e.g. blocks
// consisting only of comments or stray blank lines).
func parseBlock(block string) (Record, bool) {
	var (
		eventType string
		dataLines []string
		sawField  bool
	)

	for _, line := range strings.Split(block, "\n") {
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ":"):
			// Comment line, produces nothing.
			continue
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
			sawField = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, trimFieldValue(line[len("data:"):]))
			sawField = true
		default:
			// Unknown field names (id:, retry:, ...) are ignored.
		}
	}

	if !sawField {
		return Record{}, false
	}
	if eventType == "" {
		eventType = DefaultEvent
	}
	return Record{Event: eventType, Data: strings.Join(dataLines, "\n")}, true
}

// trimFieldValue strips the single optional space after the field colon,
// preserving any further leading whitespace in the payload.
func trimFieldValue(v string) string {
	if strings.HasPrefix(v, " ") {
		return v[1:]
	}
	return v
}
