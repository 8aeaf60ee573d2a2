// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements incremental decoding of a server-sent-event byte
// stream into discrete (event, data) records.
//
// The framing protocol is line-based: blocks are separated by a blank line,
// an "event:" line names the record type, and one or more "data:" lines carry
// the payload (joined with newlines). Comment lines starting with ":" are
// ignored. A Parser is fed raw chunks as they arrive from the network and
// yields complete records only; partial trailing blocks are carried over to
// the next chunk, so record boundaries are independent of how the transport
// happens to split the stream.
package sse
