package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type verdict struct {
	Verdict     string    `json:"verdict" msgpack:"verdict" cbor:"verdict"`
	Explanation string    `json:"explanation" msgpack:"explanation" cbor:"explanation"`
	CheckedAt   time.Time `json:"checked_at" msgpack:"checked_at" cbor:"checked_at"`
}

func sample() verdict {
	return verdict{
		Verdict:     "MISLEADING",
		Explanation: "the quoted figure is from 2011",
		CheckedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStructCodecs(t *testing.T) {
	cases := map[string]Codec[verdict]{
		"json":      JSON[verdict]{},
		"msgpack":   Msgpack[verdict]{},
		"cbor":      MustCBOR[verdict](false),
		"cbor-det":  MustCBOR[verdict](true),
		"limit-ok":  Limit[verdict]{Inner: JSON[verdict]{}, MaxDecode: 1 << 10},
		"limit-off": Limit[verdict]{Inner: JSON[verdict]{}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(sample())
			require.NoError(t, err)
			got, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, sample().Verdict, got.Verdict)
			assert.Equal(t, sample().Explanation, got.Explanation)
			assert.True(t, sample().CheckedAt.Equal(got.CheckedAt))
		})
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, err := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[verdict]{Inner: JSON[verdict]{}, MaxDecode: 8}
	b, err := c.Encode(sample())
	require.NoError(t, err)
	_, err = c.Decode(b)
	assert.ErrorContains(t, err, "payload too large")
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("FALSE"))
	require.NoError(t, err)
	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.True(t, proto.Equal(wrapperspb.String("FALSE"), got))
}

func TestRawCodecs(t *testing.T) {
	src := []byte("raw")
	b, err := Bytes{}.Encode(src)
	require.NoError(t, err)
	out, err := Bytes{}.Decode(b)
	require.NoError(t, err)
	out[0] = 'X'
	assert.Equal(t, []byte("raw"), src, "Decode must copy")

	s, err := String{}.Decode([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}
