package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/worldx-ucra/worldcache/internal/format"
)

// ZSTD encoder/decoder pools
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1))
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxPayloadSize))
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compress appends the compressed form of payload to dst.
func compress(dst, payload []byte, c format.Codec) ([]byte, error) {
	switch c {
	case format.CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("%w: zstd encoder: %v", ErrCompress, err)
		}
		defer putZstdEncoder(enc)
		return enc.EncodeAll(payload, dst), nil

	case format.CodecLZ4:
		buf := bytes.NewBuffer(dst)
		zw := lz4.NewWriter(buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCompress, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCompress, err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCompress, c)
	}
}

// decompress inflates src, which must expand to exactly size bytes.
func decompress(src []byte, size uint64, c format.Codec) ([]byte, error) {
	switch c {
	case format.CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer putZstdDecoder(dec)

		out, err := dec.DecodeAll(src, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("%w: decompressed %d bytes, declared %d", ErrCorrupt, len(out), size)
		}
		return out, nil

	case format.CodecLZ4:
		zr := lz4.NewReader(bytes.NewReader(src))
		out := make([]byte, size)
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		// The stream must end exactly at the declared length.
		var extra [1]byte
		if n, err := zr.Read(extra[:]); n != 0 || err != io.EOF {
			return nil, fmt.Errorf("%w: lz4 payload longer than declared %d bytes", ErrCorrupt, size)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, c)
	}
}
