package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/codec"
)

// FuzzCodec_Reencode_Is_Stable_When_Random_Bytes_Decoded feeds arbitrary
// bytes to Decode. Malformed input may fail (never panic); anything that
// decodes must re-encode to a fixed point: one decode/encode round
// normalizes the value, after which the byte form never changes again.
func FuzzCodec_Reencode_Is_Stable_When_Random_Bytes_Decoded(f *testing.F) {
	seeds := []codec.Value{
		codec.Nil(),
		codec.Bool(true),
		codec.Int(-42),
		codec.Uint(1 << 40),
		codec.Float(3.5),
		codec.String("hello"),
		codec.Bytes([]byte{0x01, 0x02}),
		codec.Bytes(nil),
		codec.Seq(codec.Int(1), codec.String("two"), codec.Nil()),
		codec.Map(map[string]codec.Value{"nested": codec.Seq(codec.Bool(false))}),
	}

	for _, v := range seeds {
		data, err := codec.Encode(v)
		require.NoError(f, err)
		f.Add(data)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := codec.Decode(data)
		if err != nil {
			return
		}

		first, err := codec.Encode(v)
		require.NoError(t, err)

		again, err := codec.Decode(first)
		require.NoError(t, err, "codec output must always decode")

		second, err := codec.Encode(again)
		require.NoError(t, err)

		require.True(t, bytes.Equal(first, second),
			"re-encoding a decoded value must be byte-stable: %x vs %x", first, second)
	})
}
