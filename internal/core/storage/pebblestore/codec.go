package pebblestore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var (
	docPrefix = []byte("d/")
	seqPrefix = []byte("s/")
	seqKey    = []byte("!meta/seq")
)

var encoder, _ = zstd.NewWriter(nil)

// decoder caches decompressors; a nil reader is enough for DecodeAll.
var decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// record is the stored form of a document.
type record struct {
	Rev     string      `json:"rev"`
	Gen     int         `json:"gen"`
	Seq     uint64      `json:"seq"`
	Deleted bool        `json:"deleted,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func encodeRecord(r *record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func decodeRecord(b []byte) (*record, error) {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record: %w", err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &r, nil
}

func docKey(id string) []byte {
	return append(append([]byte(nil), docPrefix...), id...)
}

// seqIndexKey sorts lexicographically in sequence order.
func seqIndexKey(seq uint64) []byte {
	key := make([]byte, len(seqPrefix)+8)
	copy(key, seqPrefix)
	binary.BigEndian.PutUint64(key[len(seqPrefix):], seq)
	return key
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid sequence value of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
