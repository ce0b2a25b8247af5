// Package snapshot encodes engine records for the persistence store.
//
// Every record is one JSON document behind a one-byte header naming the
// encoding, so a store may hold plain and compressed records side by side.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	formatJSON byte = 'j'
	formatZstd byte = 'z'
)

var (
	ErrEmpty         = errors.New("snapshot: empty record")
	ErrUnknownFormat = errors.New("snapshot: unknown record format")
)

// Codec marshals records. It reads both formats whatever it writes.
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec creates a codec. With compress set, records are written
// zstd-compressed.
func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{compress: compress, enc: enc, dec: dec}, nil
}

// Close releases the zstd workers.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Marshal encodes v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	if !c.compress {
		return append([]byte{formatJSON}, body...), nil
	}
	out := make([]byte, 1, len(body)/2+1)
	out[0] = formatZstd
	return c.enc.EncodeAll(body, out), nil
}

// Unmarshal decodes data into v.
func (c *Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	body := data[1:]
	switch data[0] {
	case formatJSON:
	case formatZstd:
		var err error
		body, err = c.dec.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("zstd decode: %w", err)
		}
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, data[0])
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}
