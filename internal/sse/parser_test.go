// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessChunkSingleBlock(t *testing.T) {
	p := NewParser()

	records := p.ProcessChunk([]byte("event: llmResult\ndata: hello\n\n"))

	require.Len(t, records, 1)
	require.Equal(t, "llmResult", records[0].Event)
	require.Equal(t, "hello", records[0].Data)
}

func TestProcessChunkDefaultEventType(t *testing.T) {
	p := NewParser()

	records := p.ProcessChunk([]byte("data: plain\n\n"))

	require.Len(t, records, 1)
	require.Equal(t, DefaultEvent, records[0].Event)
	require.Equal(t, "plain", records[0].Data)
}

func TestProcessChunkMultipleBlocksInOneChunk(t *testing.T) {
	p := NewParser()

	records := p.ProcessChunk([]byte(
		"event: thinking\ndata: A\n\nevent: thinking\ndata: B\n\nevent: llmResult\ndata: X\n\n"))

	require.Len(t, records, 3)
	require.Equal(t, Record{Event: "thinking", Data: "A"}, records[0])
	require.Equal(t, Record{Event: "thinking", Data: "B"}, records[1])
	require.Equal(t, Record{Event: "llmResult", Data: "X"}, records[2])
}

func TestProcessChunkSpansBoundary(t *testing.T) {
	p := NewParser()

	// First chunk ends mid-block: nothing emitted.
	records := p.ProcessChunk([]byte("event: llmRes"))
	require.Empty(t, records)

	records = p.ProcessChunk([]byte("ult\ndata: wor"))
	require.Empty(t, records)

	records = p.ProcessChunk([]byte("ld\n\n"))
	require.Len(t, records, 1)
	require.Equal(t, Record{Event: "llmResult", Data: "world"}, records[0])
}

func TestProcessChunkMultiLineData(t *testing.T) {
	p := NewParser()

	records := p.ProcessChunk([]byte("event: error\ndata: line one\ndata: line two\n\n"))

	require.Len(t, records, 1)
	require.Equal(t, "line one\nline two", records[0].Data)
}

func TestProcessChunkCommentIgnored(t *testing.T) {
	p := NewParser()

	records := p.ProcessChunk([]byte(": keep-alive\n\n"))
	require.Empty(t, records)

	records = p.ProcessChunk([]byte(": note\nevent: event\ndata: searching\n\n"))
	require.Len(t, records, 1)
	require.Equal(t, "searching", records[0].Data)
}

func TestProcessChunkEmptyChunk(t *testing.T) {
	p := NewParser()

	require.Empty(t, p.ProcessChunk(nil))
	require.Empty(t, p.ProcessChunk([]byte{}))
}

func TestProcessChunkCRLF(t *testing.T) {
	p := NewParser()

	records := p.ProcessChunk([]byte("event: Duration\r\ndata: 1234\r\n\r\n"))

	require.Len(t, records, 1)
	require.Equal(t, Record{Event: "Duration", Data: "1234"}, records[0])
}

// TestChunkSplitIndependence verifies that any split of the same byte stream
// produces the identical record sequence.
func TestChunkSplitIndependence(t *testing.T) {
	stream := []byte(
		"event: thinking\ndata: let me see\n\n" +
			": comment\n\n" +
			"event: llmResult\ndata: answer part\n\n" +
			"data: untagged\n\n" +
			"event: followUp\ndata: [{\"question\":\"more?\"}]\n\n")

	reference := NewParser().ProcessChunk(stream)
	require.NotEmpty(t, reference)

	for size := 1; size <= len(stream); size++ {
		p := NewParser()
		var got []Record
		for start := 0; start < len(stream); start += size {
			end := start + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, p.ProcessChunk(stream[start:end])...)
		}
		if !reflect.DeepEqual(reference, got) {
			t.Fatalf("split size %d produced %v, want %v", size, got, reference)
		}
	}
}

func TestParserNotRestartable(t *testing.T) {
	p := NewParser()
	p.ProcessChunk([]byte("event: llmResult\ndata: first\n\ndata: dangl"))

	// The dangling partial block stays buffered; a fresh parser must be used
	// for a new stream. Feeding a terminator completes the old block.
	records := p.ProcessChunk([]byte("ing\n\n"))
	require.Len(t, records, 1)
	require.Equal(t, "dangling", records[0].Data)
}
