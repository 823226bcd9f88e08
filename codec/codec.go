// Package codec defines the chunk codec contract: encoding a decoded
// chunk buffer into the bytes stored at a backend key and back. Codecs
// are registered by name and resolved from a schema's codec spec at
// open time; the core treats codec parameters as opaque.
//
// Encoded chunks are framed as a small CBOR envelope carrying the
// compressed payload and an optional blake3 checksum of the decoded
// bytes, verified on decode.
package codec

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Spec selects and parameterizes a codec. It round-trips through the
// array spec document.
type Spec struct {
	// Name is the registered codec name: "raw", "lz4", or "zstd" for
	// the built-ins. An empty name means "raw".
	Name string `json:"name,omitempty"`
	// Checksum enables a blake3 checksum of the decoded chunk inside
	// the encoded frame.
	Checksum bool `json:"checksum,omitempty"`
}

// Codec encodes and decodes chunk payloads. Implementations must be
// safe for concurrent use.
type Codec interface {
	// Name returns the registered codec name.
	Name() string
	// Encode compresses a decoded chunk payload.
	Encode(decoded []byte) ([]byte, error)
	// Decode decompresses an encoded payload. decodedSize is the exact
	// expected size of the result; a mismatch is an error.
	Decode(encoded []byte, decodedSize int) ([]byte, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]Codec{}
)

func init() {
	for _, c := range []Codec{rawCodec{}, lz4Codec{}, zstdCodec{}} {
		Register(c)
	}
}

// Register adds a codec to the registry, replacing any codec with the
// same name.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()

	registry[c.Name()] = c
}

// Resolve returns the framed codec described by the spec.
func Resolve(spec Spec) (Codec, error) {
	name := spec.Name

	if name == "" {
		name = "raw"
	}

	mu.RLock()
	inner, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no codec registered with name %q", name)
	}

	return &framed{inner: inner, checksum: spec.Checksum}, nil
}

// envelope is the stored frame around a compressed chunk payload.
type envelope struct {
	Codec string `cbor:"1,keyasint"`
	Data  []byte `cbor:"2,keyasint"`
	Sum   []byte `cbor:"3,keyasint,omitempty"`
}

// framed wraps an inner codec with the CBOR envelope and optional
// checksum.
type framed struct {
	inner    Codec
	checksum bool
}

// Name implements Codec.Name
func (c *framed) Name() string {
	return c.inner.Name()
}

// Encode implements Codec.Encode
func (c *framed) Encode(decoded []byte) ([]byte, error) {
	payload, err := c.inner.Encode(decoded)

	if err != nil {
		return nil, err
	}

	env := envelope{Codec: c.inner.Name(), Data: payload}

	if c.checksum {
		sum := blake3.Sum256(decoded)
		env.Sum = sum[:]
	}

	return cbor.Marshal(env)
}

// Decode implements Codec.Decode
func (c *framed) Decode(encoded []byte, decodedSize int) ([]byte, error) {
	var env envelope

	if err := cbor.Unmarshal(encoded, &env); err != nil {
		return nil, fmt.Errorf("could not decode chunk envelope: %w", err)
	}

	if env.Codec != c.inner.Name() {
		return nil, fmt.Errorf("chunk was encoded with codec %q, expected %q", env.Codec, c.inner.Name())
	}

	decoded, err := c.inner.Decode(env.Data, decodedSize)

	if err != nil {
		return nil, err
	}

	if env.Sum != nil {
		sum := blake3.Sum256(decoded)

		if !bytes.Equal(sum[:], env.Sum) {
			return nil, fmt.Errorf("chunk checksum mismatch")
		}
	}

	return decoded, nil
}

// rawCodec stores chunks uncompressed.
type rawCodec struct {
}

// Name implements Codec.Name
func (rawCodec) Name() string {
	return "raw"
}

// Encode implements Codec.Encode
func (rawCodec) Encode(decoded []byte) ([]byte, error) {
	return decoded, nil
}

// Decode implements Codec.Decode
func (rawCodec) Decode(encoded []byte, decodedSize int) ([]byte, error) {
	if len(encoded) != decodedSize {
		return nil, fmt.Errorf("raw chunk has size %d, expected %d", len(encoded), decodedSize)
	}

	return encoded, nil
}
