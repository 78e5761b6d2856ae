package nibbles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackPack(t *testing.T) {
	key := []byte{0x12, 0xab, 0xf0}
	n := Unpack(key)
	require.Equal(t, Nibbles{1, 2, 0xa, 0xb, 0xf, 0}, n)
	require.Equal(t, key, n.Pack())

	odd := Nibbles{1, 2, 3}
	assert.Equal(t, []byte{0x12, 0x30}, odd.Pack())
	assert.Equal(t, []byte{0x12, 0x30, 0, 0}, odd.Pad(4))
	assert.Equal(t, "123", odd.String())
}

func TestFromHex(t *testing.T) {
	n, err := FromHex([]byte{0, 15, 3})
	require.NoError(t, err)
	require.Equal(t, Nibbles{0, 15, 3}, n)

	_, err = FromHex([]byte{0, 16})
	require.ErrorIs(t, err, ErrInvalidNibble)
}

func TestIncrement(t *testing.T) {
	cases := []struct {
		in   Nibbles
		out  Nibbles
		okay bool
	}{
		{Nibbles{1, 2}, Nibbles{1, 3}, true},
		{Nibbles{1, 0xf}, Nibbles{2}, true},
		{Nibbles{0xf, 0xf}, nil, false},
		{Nibbles{}, nil, false},
		{Nibbles{0, 0xf, 0xf}, Nibbles{1}, true},
	}
	for _, tc := range cases {
		got, ok := tc.in.Increment()
		assert.Equal(t, tc.okay, ok, "in %x", tc.in)
		assert.Equal(t, tc.out, got, "in %x", tc.in)
	}
	// receiver is not modified
	in := Nibbles{1, 2}
	_, _ = in.Increment()
	assert.Equal(t, Nibbles{1, 2}, in)
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, 2, CommonPrefixLen(Nibbles{1, 2, 3}, Nibbles{1, 2, 4, 5}))
	assert.Equal(t, 0, CommonPrefixLen(Nibbles{}, Nibbles{1}))
	assert.Equal(t, 3, CommonPrefixLen(Nibbles{1, 2, 3}, Nibbles{1, 2, 3}))
	assert.True(t, Nibbles{1, 2, 3}.HasPrefix(Nibbles{1, 2}))
	assert.True(t, Nibbles{1, 2, 3}.HasPrefix(nil))
	assert.False(t, Nibbles{1, 2}.HasPrefix(Nibbles{1, 2, 3}))
}

func TestCompactEncoding(t *testing.T) {
	// Examples from the yellow paper, appendix C.
	cases := []struct {
		path    Nibbles
		leaf    bool
		compact []byte
	}{
		{Nibbles{1, 2, 3, 4, 5}, false, []byte{0x11, 0x23, 0x45}},
		{Nibbles{0, 1, 2, 3, 4, 5}, false, []byte{0x00, 0x01, 0x23, 0x45}},
		{Nibbles{0, 0xf, 1, 0xc, 0xb, 8}, true, []byte{0x20, 0x0f, 0x1c, 0xb8}},
		{Nibbles{0xf, 1, 0xc, 0xb, 8}, true, []byte{0x3f, 0x1c, 0xb8}},
		{Nibbles{}, true, []byte{0x20}},
	}
	for _, tc := range cases {
		got := tc.path.EncodeCompact(tc.leaf)
		require.Equal(t, tc.compact, got)

		path, leaf, err := DecodeCompact(got)
		require.NoError(t, err)
		require.Equal(t, tc.leaf, leaf)
		require.Equal(t, tc.path.Len(), path.Len())
		require.True(t, tc.path.Equal(path))
	}

	_, _, err := DecodeCompact(nil)
	require.Error(t, err)
	_, _, err = DecodeCompact([]byte{0x45})
	require.Error(t, err)
}

func TestAppendDoesNotAlias(t *testing.T) {
	base := make(Nibbles, 2, 8)
	a := base.Append(1)
	b := base.Append(2)
	assert.Equal(t, Nibbles{0, 0, 1}, a)
	assert.Equal(t, Nibbles{0, 0, 2}, b)
}
