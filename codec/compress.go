package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// lz4Codec compresses chunks with block-mode LZ4. Fast default for
// binary data when content is unknown or mixed. Incompressible chunks
// are stored verbatim with a zero-byte marker so decode can tell the
// two apart.
type lz4Codec struct {
}

// Name implements Codec.Name
func (lz4Codec) Name() string {
	return "lz4"
}

// Encode implements Codec.Encode
func (lz4Codec) Encode(decoded []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(decoded))
	destination := make([]byte, bound+1)
	destination[0] = 1

	written, err := lz4.CompressBlock(decoded, destination[1:], nil)

	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when the data is incompressible. Storing
	// such chunks verbatim keeps encode total.
	if written == 0 || written >= len(decoded) {
		verbatim := make([]byte, len(decoded)+1)
		copy(verbatim[1:], decoded)

		return verbatim, nil
	}

	return destination[:written+1], nil
}

// Decode implements Codec.Decode
func (lz4Codec) Decode(encoded []byte, decodedSize int) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("lz4 chunk is empty")
	}

	if encoded[0] == 0 {
		if len(encoded)-1 != decodedSize {
			return nil, fmt.Errorf("verbatim chunk has size %d, expected %d", len(encoded)-1, decodedSize)
		}

		decoded := make([]byte, decodedSize)
		copy(decoded, encoded[1:])

		return decoded, nil
	}

	decoded := make([]byte, decodedSize)
	read, err := lz4.UncompressBlock(encoded[1:], decoded)

	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}

	if read != decodedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, decodedSize)
	}

	return decoded, nil
}

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)

	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// zstdCodec compresses chunks with zstd at the default level. Better
// ratios than lz4 for text-like or highly regular data.
type zstdCodec struct {
}

// Name implements Codec.Name
func (zstdCodec) Name() string {
	return "zstd"
}

// Encode implements Codec.Encode
func (zstdCodec) Encode(decoded []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(decoded, nil), nil
}

// Decode implements Codec.Decode
func (zstdCodec) Decode(encoded []byte, decodedSize int) ([]byte, error) {
	decoded, err := zstdDecoder.DecodeAll(encoded, make([]byte, 0, decodedSize))

	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}

	if len(decoded) != decodedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(decoded), decodedSize)
	}

	return decoded, nil
}
