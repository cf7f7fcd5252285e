// Package journal implements C13: a best-effort, append-only per-connection
// record of emitted events, insights and errors, for offline replay. It is
// a passive recorder: nothing on the hot path reads it back, and a write
// failure here never produces a client-visible error.
//
// Records are encoded with google.golang.org/protobuf's low-level protowire
// package directly (field-number/wire-type tags plus length-delimited
// values), the same shape protoc would generate for a small schema, without
// requiring a protoc-generated Go package. Each record is length-prefixed
// (4-byte big-endian) and appended to <connection_id>/journal.pb under the
// directory given to Open (the server passes the journal.dir setting).
package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/deflagg/eva/internal/logger"
)

// Kind identifies what a JournalRecord's payload represents.
type Kind int

const (
	KindEvent Kind = iota + 1
	KindInsight
	KindError
)

// Field numbers for the journal record's wire encoding.
const (
	fieldConnectionID = 1
	fieldSeq          = 2
	fieldTsMs         = 3
	fieldKind         = 4
	fieldPayload      = 5
)

// Record is one journal entry.
type Record struct {
	ConnectionID string
	Seq          uint64
	TsMs         int64
	Kind         Kind
	Payload      []byte // caller-encoded JSON of the corresponding outbound message
}

// Encode serializes r using protobuf wire format: each field as a
// (tag, value) pair in ascending field-number order, matching what protoc
// would emit for a message with these field numbers and types.
func Encode(r Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldConnectionID, protowire.BytesType)
	b = protowire.AppendString(b, r.ConnectionID)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Seq)
	b = protowire.AppendTag(b, fieldTsMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.TsMs))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Payload)
	return b
}

// Writer appends length-prefixed journal records for one connection.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	log       logger.Module
	nextSeq   uint64
	onFailure func()
}

// Open creates <assetsDir>/<connection_id>/journal.pb, truncating any
// previous journal for that connection ID (connection IDs are UUIDs, so
// reuse would indicate a bug elsewhere, not legitimate continuation).
// onFailure, if non-nil, is called once per failed write (wired to the
// journal_write_failures_total metric); it must not block.
func Open(assetsDir, connectionID string, log logger.Module, onFailure func()) (*Writer, error) {
	dir := filepath.Join(assetsDir, connectionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "journal.pb"))
	if err != nil {
		return nil, fmt.Errorf("creating journal file: %w", err)
	}
	return &Writer{f: f, log: log, nextSeq: 1, onFailure: onFailure}, nil
}

// Write appends one record. Failures are logged and swallowed: the journal
// is a debugging aid, never a dependency of the wire protocol.
func (w *Writer) Write(connectionID string, tsMs int64, kind Kind, payload []byte) {
	w.mu.Lock()
	seq := w.nextSeq
	w.nextSeq++
	w.mu.Unlock()

	rec := Encode(Record{ConnectionID: connectionID, Seq: seq, TsMs: tsMs, Kind: kind, Payload: payload})

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(rec)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(lenPrefix[:]); err != nil {
		w.log.Warn("journal write failed: %v", err)
		if w.onFailure != nil {
			w.onFailure()
		}
		return
	}
	if _, err := w.f.Write(rec); err != nil {
		w.log.Warn("journal write failed: %v", err)
		if w.onFailure != nil {
			w.onFailure()
		}
	}
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
