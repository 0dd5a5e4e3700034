package store

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Encoders created with a nil writer/reader are safe for concurrent
// EncodeAll/DecodeAll calls, so one of each is shared.
var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func initCodec() {
	encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if codecErr != nil {
		return
	}
	decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// Encode encodes data for storage with compression c.
func Encode(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		codecOnce.Do(initCodec)
		if codecErr != nil {
			return nil, fmt.Errorf("init zstd: %w", codecErr)
		}
		return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	default:
		return nil, fmt.Errorf("encode: unknown compression %s", c)
	}
}

// Decode reverses Encode.
func Decode(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		codecOnce.Do(initCodec)
		if codecErr != nil {
			return nil, fmt.Errorf("init zstd: %w", codecErr)
		}
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode: unknown compression %s", c)
	}
}
