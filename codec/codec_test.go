package codec_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/jrife/gridstore/codec"
	"github.com/stretchr/testify/require"
)

func payloads() map[string][]byte {
	rng := rand.New(rand.NewSource(1))

	random := make([]byte, 4096)
	rng.Read(random)

	repetitive := bytes.Repeat([]byte("gridstore"), 512)

	return map[string][]byte{
		"empty":       {},
		"random":      random,
		"repetitive":  repetitive,
		"single fill": bytes.Repeat([]byte{255}, 16*64*64),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"raw", "lz4", "zstd"} {
		for _, checksum := range []bool{false, true} {
			c, err := codec.Resolve(codec.Spec{Name: name, Checksum: checksum})
			require.NoError(t, err)

			for payloadName, payload := range payloads() {
				t.Run(name+"/"+payloadName, func(t *testing.T) {
					encoded, err := c.Encode(payload)
					require.NoError(t, err)

					decoded, err := c.Decode(encoded, len(payload))
					require.NoError(t, err)
					require.Equal(t, payload, decoded)
				})
			}
		}
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	for _, name := range []string{"raw", "lz4", "zstd"} {
		t.Run(name, func(t *testing.T) {
			c, err := codec.Resolve(codec.Spec{Name: name})
			require.NoError(t, err)

			encoded, err := c.Encode([]byte("some chunk bytes"))
			require.NoError(t, err)

			_, err = c.Decode(encoded, 3)
			require.Error(t, err)
		})
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	with, err := codec.Resolve(codec.Spec{Name: "raw", Checksum: true})
	require.NoError(t, err)

	payload := []byte("chunk data that must survive intact")
	encoded, err := with.Encode(payload)
	require.NoError(t, err)

	// Flip a payload byte inside the frame.
	corrupted := make([]byte, len(encoded))
	copy(corrupted, encoded)
	corrupted[len(corrupted)-2] ^= 0xff

	_, err = with.Decode(corrupted, len(payload))
	require.Error(t, err)
}

func TestUnknownCodec(t *testing.T) {
	_, err := codec.Resolve(codec.Spec{Name: "nope"})
	require.Error(t, err)
}

func TestDefaultIsRaw(t *testing.T) {
	c, err := codec.Resolve(codec.Spec{})
	require.NoError(t, err)
	require.Equal(t, "raw", c.Name())
}
