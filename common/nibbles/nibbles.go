// Package nibbles implements trie paths: sequences of half-bytes, one nibble per byte.
//
// A 32-byte hashed key unpacks into 64 nibbles. Because every nibble occupies a
// whole byte, the lexicographic order of the byte representation is the trie
// order, so paths can be used directly as database keys.
package nibbles

import (
	"bytes"
	"errors"
	"fmt"
)

// Nibbles is a trie path. Every element is in the range 0..15.
type Nibbles []byte

var ErrInvalidNibble = errors.New("nibble out of range")

// Unpack expands every byte of key into two nibbles, high half first.
func Unpack(key []byte) Nibbles {
	n := make(Nibbles, len(key)*2)
	for i, b := range key {
		n[i*2] = b >> 4
		n[i*2+1] = b & 0x0f
	}
	return n
}

// FromHex copies a path already in one-nibble-per-byte form and checks its range.
func FromHex(hex []byte) (Nibbles, error) {
	for i, b := range hex {
		if b > 0x0f {
			return nil, fmt.Errorf("%w: %x at %d", ErrInvalidNibble, b, i)
		}
	}
	return Nibbles(bytes.Clone(hex)), nil
}

// Pack compresses the path back into bytes. An odd trailing nibble is placed in
// the high half of the last byte.
func (n Nibbles) Pack() []byte {
	out := make([]byte, (len(n)+1)/2)
	for i := 0; i < len(n); i++ {
		if i%2 == 0 {
			out[i/2] = n[i] << 4
		} else {
			out[i/2] |= n[i]
		}
	}
	return out
}

func (n Nibbles) Len() int { return len(n) }

func (n Nibbles) IsEmpty() bool { return len(n) == 0 }

// At returns the i-th nibble.
func (n Nibbles) At(i int) byte { return n[i] }

// Last returns the final nibble of a non-empty path.
func (n Nibbles) Last() byte { return n[len(n)-1] }

func (n Nibbles) Clone() Nibbles {
	if n == nil {
		return nil
	}
	return bytes.Clone(n)
}

// Append returns a new path, n followed by nibs. The receiver is never aliased.
func (n Nibbles) Append(nibs ...byte) Nibbles {
	out := make(Nibbles, len(n), len(n)+len(nibs))
	copy(out, n)
	return append(out, nibs...)
}

func (n Nibbles) Compare(o Nibbles) int { return bytes.Compare(n, o) }

func (n Nibbles) Equal(o Nibbles) bool { return bytes.Equal(n, o) }

// HasPrefix reports whether p is an initial segment of n (p == n included).
func (n Nibbles) HasPrefix(p Nibbles) bool { return bytes.HasPrefix(n, p) }

// CommonPrefixLen returns the length of the longest shared initial segment.
func CommonPrefixLen(a, b Nibbles) int {
	l := len(a)
	if len(b) < l {
		l = len(b)
	}
	i := 0
	for ; i < l; i++ {
		if a[i] != b[i] {
			break
		}
	}
	return i
}

// Increment returns the smallest path that sorts after every path having n as
// prefix: trailing 0xf nibbles are dropped and the last remaining nibble is
// bumped. ok is false when no such path exists (n is empty or all 0xf).
func (n Nibbles) Increment() (next Nibbles, ok bool) {
	out := n.Clone()
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0x0f {
			out[i]++
			return out[:i+1], true
		}
	}
	return nil, false
}

// Pad returns the packed path right-padded with zeroes to size bytes. Used to
// turn a trie path into a seek key of the hashed state tables.
func (n Nibbles) Pad(size int) []byte {
	packed := n.Pack()
	if len(packed) >= size {
		return packed[:size]
	}
	out := make([]byte, size)
	copy(out, packed)
	return out
}

// EncodeCompact is the hex-prefix encoding of the path used inside leaf and
// extension nodes. The first nibble of the output carries the odd-length and
// terminator flags.
func (n Nibbles) EncodeCompact(isLeaf bool) []byte {
	var flag byte
	if isLeaf {
		flag = 0x20
	}
	out := make([]byte, len(n)/2+1)
	rest := n
	if len(n)%2 == 1 {
		flag |= 0x10 | n[0]
		rest = n[1:]
	}
	out[0] = flag
	for i := 0; i < len(rest); i += 2 {
		out[i/2+1] = rest[i]<<4 | rest[i+1]
	}
	return out
}

// DecodeCompact reverses EncodeCompact.
func DecodeCompact(compact []byte) (path Nibbles, isLeaf bool, err error) {
	if len(compact) == 0 {
		return nil, false, errors.New("empty hex-prefix key")
	}
	flag := compact[0] >> 4
	if flag > 3 {
		return nil, false, fmt.Errorf("invalid hex-prefix flag %x", flag)
	}
	isLeaf = flag&0x2 != 0
	unpacked := Unpack(compact[1:])
	if flag&0x1 != 0 {
		path = make(Nibbles, 0, len(unpacked)+1)
		path = append(path, compact[0]&0x0f)
		path = append(path, unpacked...)
		return path, isLeaf, nil
	}
	if compact[0]&0x0f != 0 {
		return nil, false, fmt.Errorf("non-zero padding nibble in hex-prefix key %x", compact)
	}
	return unpacked, isLeaf, nil
}

func (n Nibbles) String() string {
	const digits = "0123456789abcdef"
	var b = make([]byte, len(n))
	for i, nib := range n {
		b[i] = digits[nib&0x0f]
	}
	return string(b)
}
