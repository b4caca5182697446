package kvers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/ersdb/codec"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/symbols"
)

// Dump stream: dumpMagic, then one length-prefixed msgpack record per map
// entry, a zero length, and the xxhash64 of everything before it as 8
// big-endian bytes.
var dumpMagic = []byte("ERSDUMP\x01")

var ErrBadDump = fmt.Errorf("%w: kvers: malformed dump", ers.ErrStorage)

type dumpRecord struct {
	_msgpack struct{} `msgpack:",as_array"`
	Map      string
	Key      []byte
	Value    []byte
}

var dumpRecordBinding = codec.Msgpack[dumpRecord]()

// Dump writes every map, symbols included, from a read-only snapshot.
func (s *Store) Dump(w io.Writer) error {
	tx, err := s.storage.BeginReadonly()
	if err != nil {
		return err
	}
	defer tx.Abort()
	names, err := tx.MapNames()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	h := xxhash.New()
	out := io.MultiWriter(bw, h)
	if _, err := out.Write(dumpMagic); err != nil {
		return err
	}
	var buf []byte
	var n int
	write := func(rec dumpRecord) error {
		buf = codec.AppendVarBytes(buf[:0], codec.Encode(dumpRecordBinding, rec))
		_, err := out.Write(buf)
		n++
		return err
	}
	// Symbols come from the interner, which also knows the ones that
	// in-memory storages never flush.
	for _, e := range s.symbols.Snapshot() {
		if err := write(dumpRecord{Map: symbols.MapName, Key: codec.AppendFixedUint64(nil, uint64(e.ID)), Value: []byte(e.Name)}); err != nil {
			return err
		}
	}
	for _, name := range names {
		if name == symbols.MapName {
			continue
		}
		c, err := tx.Navigate(name, nil)
		if err != nil {
			return err
		}
		for c.Next() {
			if err := write(dumpRecord{Map: name, Key: c.Key(), Value: c.Value()}); err != nil {
				c.Close()
				return err
			}
		}
		c.Close()
		if err := c.Err(); err != nil {
			return err
		}
	}
	if _, err := out.Write([]byte{0}); err != nil {
		return err
	}
	if _, err := bw.Write(codec.AppendFixedUint64(nil, h.Sum64())); err != nil {
		return err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "kvers: dumped", slog.Int("maps", len(names)), slog.Int("entries", n))
	return bw.Flush()
}

func parseDump(data []byte) ([]dumpRecord, error) {
	if len(data) < len(dumpMagic)+1+8 || !bytes.HasPrefix(data, dumpMagic) {
		return nil, fmt.Errorf("%w: no header", ErrBadDump)
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	if sum := binary.BigEndian.Uint64(trailer); sum != xxhash.Sum64(body) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadDump)
	}
	d := codec.NewDecoder(body[len(dumpMagic):])
	var records []dumpRecord
	for {
		raw, err := d.VarBytes()
		if err != nil {
			return nil, errors.Join(ErrBadDump, err)
		}
		if len(raw) == 0 {
			break
		}
		rec, err := dumpRecordBinding.Decode(raw)
		if err != nil {
			return nil, errors.Join(ErrBadDump, err)
		}
		records = append(records, rec)
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes after the last record", ErrBadDump, d.Remaining())
	}
	return records, nil
}

// Load replaces the whole storage with the contents of a dump and reloads
// the symbol cache. The dump is verified before anything is changed.
func (s *Store) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	records, err := parseDump(data)
	if err != nil {
		return err
	}

	tx, err := s.storage.Begin()
	if err != nil {
		return err
	}
	defer tx.Abort()
	names, err := tx.MapNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := tx.DropMap(name); err != nil {
			return err
		}
	}
	for _, rec := range records {
		if _, err := tx.Put(rec.Map, rec.Key, rec.Value); err != nil {
			return err
		}
	}
	s.beginSchemaChange()
	ok, err := tx.Commit()
	s.endSchemaChange()
	if err != nil {
		return err
	}
	if !ok {
		return ers.ErrConflict
	}

	s.schema.Purge()
	s.symbols.Reset()
	rtx, err := s.storage.BeginReadonly()
	if err != nil {
		return err
	}
	defer rtx.Abort()
	if err := s.symbols.Load(rtx); err != nil {
		return err
	}
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "kvers: loaded dump", slog.Int("entries", len(records)))
	return nil
}
