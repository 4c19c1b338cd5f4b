// Package wal implements the append-only write-ahead log. Records are
// framed {len, kind, payload, checksum}; replay walks records in order and
// truncates at the first invalid checksum, discarding everything after.
// The log is truncated after a successful snapshot.
//
// Record payloads are opaque at this layer; the index package owns their
// encodings. All payloads carry absolute state so that replaying a suffix
// over a partially flushed image converges.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Kind identifies the mutation a record carries.
type Kind uint8

const (
	// KindFullNode carries a fully serialized node, written on insert and
	// on structural replacement.
	KindFullNode Kind = iota + 1
	// KindTouch carries an id and a new accessed_at timestamp.
	KindTouch
	// KindConfidence carries an id and an absolute confidence tuple.
	KindConfidence
	// KindEdge carries an id, edge type, target, weight, and add/remove.
	KindEdge
	// KindTag carries an id, a tag, and add/remove.
	KindTag
	// KindRemove carries an id.
	KindRemove
	// KindVector carries an id and an absolute quantized vector, written
	// when attractor settling drifts a stored embedding.
	KindVector
)

// Record is one replayed log entry.
type Record struct {
	Kind    Kind
	Payload []byte
}

// frame: u32 payload length, u8 kind, payload bytes, u32 crc32 over
// kind+payload.
const frameOverhead = 4 + 1 + 4

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Log is an append-only record stream backed by one file.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
	size int64
}

// Open opens (creating if absent) the log at path, positioned for append.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: seek %s: %w", path, err)
	}
	return &Log{f: f, path: path, size: info.Size()}, nil
}

// Append frames and writes one record. The write is buffered by the OS;
// call Sync to make it durable.
func (l *Log) Append(kind Kind, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("wal: log is closed")
	}

	frame := make([]byte, 0, frameOverhead+len(payload))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, byte(kind))
	frame = append(frame, payload...)

	crc := crc32.Update(0, crcTable, frame[4:])
	frame = binary.LittleEndian.AppendUint32(frame, crc)

	if _, err := l.f.Write(frame); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	l.size += int64(len(frame))
	return nil
}

// Sync flushes appended records to stable storage. The commit point of
// every engine write is this fsync.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("wal: log is closed")
	}
	return l.f.Sync()
}

// Size returns the current log length in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Replay walks records from the start, invoking fn for each. A record
// with a bad checksum or a truncated frame stops the walk; everything at
// and after it is discarded by truncating the file there.
func (l *Log) Replay(fn func(Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("wal: log is closed")
	}

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}

	var offset int64
	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(l.f, header); err != nil {
			// Clean EOF or torn frame header: stop here.
			break
		}
		payloadLen := binary.LittleEndian.Uint32(header)
		body := make([]byte, payloadLen+4)
		if _, err := io.ReadFull(l.f, body); err != nil {
			break
		}

		crc := crc32.Update(0, crcTable, header[4:5])
		crc = crc32.Update(crc, crcTable, body[:payloadLen])
		if crc != binary.LittleEndian.Uint32(body[payloadLen:]) {
			break
		}

		rec := Record{Kind: Kind(header[4]), Payload: body[:payloadLen]}
		if err := fn(rec); err != nil {
			return fmt.Errorf("wal: replay at offset %d: %w", offset, err)
		}
		offset += int64(frameOverhead) + int64(payloadLen)
	}

	// Drop any torn or corrupt tail so future appends start clean.
	if offset < l.size {
		if err := l.f.Truncate(offset); err != nil {
			return fmt.Errorf("wal: truncate torn tail: %w", err)
		}
		l.size = offset
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek to end: %w", err)
	}
	return nil
}

// Reset truncates the log to empty, called after a successful snapshot.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("wal: log is closed")
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: reset: %w", err)
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek after reset: %w", err)
	}
	l.size = 0
	return l.f.Sync()
}

// Close syncs and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Sync()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
