package canonical_test

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wot-technology/wellspring/internal/canonical"
)

func TestEncodeVectors(t *testing.T) {
	cases := []struct {
		name string
		in   canonical.Value
		want string
	}{
		{"null", canonical.Null(), `null`},
		{"true", canonical.Bool(true), `true`},
		{"int", canonical.Int(42), `42`},
		{"negative int", canonical.Int(-7), `-7`},
		{"integral float collapses", canonical.Float(2.0), `2`},
		{"fractional float", canonical.Float(0.5), `0.5`},
		{"string", canonical.String("Hello, WoT!"), `"Hello, WoT!"`},
		{"escapes", canonical.String("a\"b\\c\n"), `"a\"b\\c
"`},
		{"empty array", canonical.Array(), `[]`},
		{"array preserves order", canonical.Array(canonical.Int(3), canonical.Int(1)), `[3,1]`},
		{"empty map", canonical.MapOf(), `{}`},
		{
			"map keys sorted by byte value",
			canonical.MapOf(
				canonical.Field{Key: "z", Value: canonical.Int(1)},
				canonical.Field{Key: "a", Value: canonical.Int(2)},
				canonical.Field{Key: "m", Value: canonical.Int(3)},
			),
			`{"a":2,"m":3,"z":1}`,
		},
		{
			"nested",
			canonical.MapOf(
				canonical.Field{Key: "because", Value: canonical.Array(canonical.String("x"))},
				canonical.Field{Key: "content", Value: canonical.MapOf(
					canonical.Field{Key: "weight", Value: canonical.Float(1.0)},
				)},
			),
			`{"because":["x"],"content":{"weight":1}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := canonical.Encode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	// Same fields, different construction order.
	a := canonical.MapOf(
		canonical.Field{Key: "kind", Value: canonical.String("basic")},
		canonical.Field{Key: "created_at", Value: canonical.Int(100)},
	)
	b := canonical.MapOf(
		canonical.Field{Key: "created_at", Value: canonical.Int(100)},
		canonical.Field{Key: "kind", Value: canonical.String("basic")},
	)

	ba, err := canonical.Encode(a)
	require.NoError(t, err)
	bb, err := canonical.Encode(b)
	require.NoError(t, err)
	assert.Equal(t, ba, bb)

	// Repeated calls are bit-identical.
	ba2, err := canonical.Encode(a)
	require.NoError(t, err)
	assert.Equal(t, ba, ba2)
}

func TestEncodeNFCNormalization(t *testing.T) {
	// U+00E9 (é) composed vs e + U+0301 combining acute.
	composed := canonical.String("café")
	decomposed := canonical.String("café")

	ba, err := canonical.Encode(composed)
	require.NoError(t, err)
	bb, err := canonical.Encode(decomposed)
	require.NoError(t, err)
	assert.Equal(t, ba, bb)

	// Keys normalize too, so both spellings address the same field.
	m := canonical.MapOf(canonical.Field{Key: "café", Value: canonical.Int(1)})
	v, ok := m.Get("café")
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.EqualValues(t, 1, i)
}

func TestEncodeRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := canonical.Encode(canonical.Float(f))
		require.Error(t, err)
		var encErr *canonical.EncodingError
		require.ErrorAs(t, err, &encErr)
	}
}

func TestEncodeRejectsDuplicateKeys(t *testing.T) {
	m := canonical.MapOf(
		canonical.Field{Key: "k", Value: canonical.Int(1)},
		canonical.Field{Key: "k", Value: canonical.Int(2)},
	)
	_, err := canonical.Encode(m)
	require.Error(t, err)
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	// A few hundred KiB of '[' fits well inside a network frame; without
	// the depth bound this dies of stack exhaustion instead of returning.
	n := canonical.MaxDepth * 64
	deep := strings.Repeat("[", n) + strings.Repeat("]", n)
	_, err := canonical.Decode([]byte(deep))
	require.Error(t, err)
	var encErr *canonical.EncodingError
	require.ErrorAs(t, err, &encErr)

	deepObj := strings.Repeat(`{"k":`, n) + "0" + strings.Repeat("}", n)
	_, err = canonical.Decode([]byte(deepObj))
	require.Error(t, err)

	// At the bound itself, decoding still works.
	ok := strings.Repeat("[", canonical.MaxDepth) + strings.Repeat("]", canonical.MaxDepth)
	_, err = canonical.Decode([]byte(ok))
	require.NoError(t, err)
}

func TestEncodeRejectsDeepNesting(t *testing.T) {
	v := canonical.Array()
	for i := 0; i < canonical.MaxDepth+10; i++ {
		v = canonical.Array(v)
	}
	_, err := canonical.Encode(v)
	require.Error(t, err)

	var x interface{} = "leaf"
	for i := 0; i < canonical.MaxDepth+10; i++ {
		x = []interface{}{x}
	}
	_, err = canonical.FromInterface(x)
	require.Error(t, err)
}

func TestFromInterfaceRejectsCycles(t *testing.T) {
	cyc := map[string]interface{}{}
	cyc["self"] = cyc
	_, err := canonical.FromInterface(cyc)
	require.Error(t, err)
	var encErr *canonical.EncodingError
	require.ErrorAs(t, err, &encErr)

	arr := []interface{}{nil}
	arr[0] = arr
	_, err = canonical.FromInterface(arr)
	require.Error(t, err)
}

func TestDecodeRoundTrip(t *testing.T) {
	v := canonical.MapOf(
		canonical.Field{Key: "channel", Value: canonical.String("member")},
		canonical.Field{Key: "target", Value: canonical.String("sha256:00ff")},
		canonical.Field{Key: "weight", Value: canonical.Float(0.8)},
	)
	bz, err := canonical.Encode(v)
	require.NoError(t, err)

	got, err := canonical.Decode(bz)
	require.NoError(t, err)
	re, err := canonical.Encode(got)
	require.NoError(t, err)
	assert.Equal(t, bz, re)
}

func TestDecodeRejectsNonCanonical(t *testing.T) {
	bad := []string{
		`{"b":1,"a":2}`,   // unsorted keys
		`{"a": 1}`,        // whitespace
		`01`,              // leading zero
		`+1`,              // explicit plus
		`2.0`,             // integral float spelled as float
		`"café"`,     // escape of a printable character
		`{"a":1}x`,        // trailing bytes
		`[1,2,]`,          // trailing comma
		`{"a":1,"a":2}`,   // duplicate key
		"\"raw\tcontrol\"", // unescaped control byte
	}
	for _, in := range bad {
		_, err := canonical.Decode([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}
