package rlp

import (
	"bytes"
	"fmt"
	"math/big"
	"testing"
)

func TestDecodeScalarForms(t *testing.T) {
	var s string
	if err := DecodeBytes([]byte{0x83, 0x64, 0x6f, 0x67}, &s); err != nil || s != "dog" {
		t.Fatalf("string: got %q, err %v", s, err)
	}

	var u uint64
	if err := DecodeBytes([]byte{0x82, 0x04, 0x00}, &u); err != nil || u != 1024 {
		t.Fatalf("uint64: got %d, err %v", u, err)
	}

	var bi big.Int
	if err := DecodeBytes([]byte{0x82, 0x04, 0x00}, &bi); err != nil || bi.Cmp(big.NewInt(1024)) != 0 {
		t.Fatalf("big.Int: got %s, err %v", bi.String(), err)
	}

	var b []byte
	if err := DecodeBytes([]byte{0x83, 0x01, 0x02, 0x03}, &b); err != nil || !bytes.Equal(b, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("[]byte: got %x, err %v", b, err)
	}

	var flag bool
	if err := DecodeBytes([]byte{0x01}, &flag); err != nil || !flag {
		t.Fatalf("bool: got %v, err %v", flag, err)
	}
}

func TestDecodeStructIsPositional(t *testing.T) {
	type pair struct {
		Name string
		Age  uint64
	}
	var got pair
	if err := DecodeBytes([]byte{0xc5, 0x83, 0x63, 0x61, 0x74, 0x05}, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "cat" || got.Age != 5 {
		t.Fatalf("got %+v, want {cat 5}", got)
	}
}

func TestDecodeStringSlice(t *testing.T) {
	var got []string
	input := []byte{0xc8, 0x83, 0x63, 0x61, 0x74, 0x83, 0x64, 0x6f, 0x67} // ["cat","dog"]
	if err := DecodeBytes(input, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "cat" || got[1] != "dog" {
		t.Fatalf("got %v, want [cat dog]", got)
	}
}

type roundTripPair struct {
	Name string
	Age  uint64
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pair := roundTripPair{Name: "alice", Age: 30}
	cases := []any{
		"", "hello", "dog",
		uint64(0), uint64(255), uint64(1) << 63,
		big.NewInt(0), big.NewInt(1024),
		[]byte{}, []byte{0x7f}, []byte{0x80},
		true, false,
		pair,
		[]string{"cat", "dog", "fish"},
	}
	for _, original := range cases {
		enc, err := EncodeToBytes(original)
		if err != nil {
			t.Fatalf("encode %#v: %v", original, err)
		}
		decoded, err := decodeInto(enc, original)
		if err != nil {
			t.Fatalf("decode %#v: %v", original, err)
		}
		if !equalRoundTrip(original, decoded) {
			t.Fatalf("round trip: got %#v, want %#v", decoded, original)
		}
	}
}

// decodeInto allocates a fresh value of the same underlying type as sample
// and decodes into it, returning the dereferenced result.
func decodeInto(enc []byte, sample any) (any, error) {
	switch sample.(type) {
	case string:
		var v string
		err := DecodeBytes(enc, &v)
		return v, err
	case uint64:
		var v uint64
		err := DecodeBytes(enc, &v)
		return v, err
	case *big.Int:
		var v big.Int
		err := DecodeBytes(enc, &v)
		return &v, err
	case []byte:
		var v []byte
		err := DecodeBytes(enc, &v)
		return v, err
	case bool:
		var v bool
		err := DecodeBytes(enc, &v)
		return v, err
	case []string:
		var v []string
		err := DecodeBytes(enc, &v)
		return v, err
	case roundTripPair:
		var v roundTripPair
		err := DecodeBytes(enc, &v)
		return v, err
	default:
		return nil, fmt.Errorf("decodeInto: unhandled sample type %T", sample)
	}
}

func equalRoundTrip(a, b any) bool {
	if bi, ok := a.(*big.Int); ok {
		return bi.Cmp(b.(*big.Int)) == 0
	}
	if bs, ok := a.([]byte); ok {
		return bytes.Equal(bs, b.([]byte))
	}
	if ss, ok := a.([]string); ok {
		other := b.([]string)
		if len(ss) != len(other) {
			return false
		}
		for i := range ss {
			if ss[i] != other[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input []byte
	}{
		{"truncated string payload", []byte{0x83, 0x64, 0x6f}},
		{"non-canonical length-of-length", []byte{0xb8, 0x01, 0x61}},
		{"non-canonical leading-zero uint", []byte{0x82, 0x00, 0x80}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got uint64
			if err := DecodeBytes(c.input, &got); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestStreamReadsScalarsDirectly(t *testing.T) {
	s := NewStream(bytes.NewReader([]byte{0x83, 0x64, 0x6f, 0x67})) // "dog"
	k, size, err := s.Kind()
	if err != nil {
		t.Fatal(err)
	}
	if k != String || size != 3 {
		t.Fatalf("Kind: got (%v, %d), want (String, 3)", k, size)
	}
	b, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "dog" {
		t.Fatalf("Bytes: got %q, want dog", b)
	}
}

func TestStreamWalksAList(t *testing.T) {
	data := []byte{0xc8, 0x83, 0x63, 0x61, 0x74, 0x83, 0x64, 0x6f, 0x67} // ["cat","dog"]
	s := NewStream(bytes.NewReader(data))
	if _, err := s.List(); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"cat", "dog"} {
		b, err := s.Bytes()
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != want {
			t.Fatalf("got %q, want %q", b, want)
		}
	}

	if err := s.ListEnd(); err != nil {
		t.Fatal(err)
	}
}
