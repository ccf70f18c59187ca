package fitscube

import (
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"
)

func card(s string) string {
	return s + strings.Repeat(" ", cardSize-len(s))
}

func TestEncodeChecksumAddsValue(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		off := trial % 4
		buf := make([]byte, 32)
		rng.Read(buf)
		copy(buf[off:], checksumPlaceholder)
		before := onesSum(0, buf)

		v := rng.Uint32()
		enc := encodeChecksum(v, off)
		for _, c := range []byte(enc) {
			isAlnum := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
			if !isAlnum {
				t.Fatalf("encoding %q of %#x contains %q", enc, v, c)
			}
		}
		copy(buf[off:], enc)

		var word [4]byte
		binary.BigEndian.PutUint32(word[:], v)
		if got, want := onesSum(0, buf), onesSum(before, word[:]); got != want {
			t.Fatalf("offset %d value %#x: sum %#x, expected %#x", off, v, got, want)
		}
	}
}

func TestPatchChecksum(t *testing.T) {
	hdr := card("SIMPLE  =                    T") +
		card("BITPIX  =                   16") +
		card("NAXIS   =                    1") +
		card("NAXIS1  =                 1440") +
		card("CHECKSUM= '"+checksumPlaceholder+"'") +
		card("END")
	b := make([]byte, 2*blockSize)
	copy(b, hdr)
	for i := len(hdr); i < blockSize; i++ {
		b[i] = ' '
	}
	rand.New(rand.NewSource(2)).Read(b[blockSize:])

	if err := patchChecksum(b); err != nil {
		t.Fatal(err)
	}
	if sum := onesSum(0, b); sum != 0xffffffff {
		t.Errorf("HDU sums to %#x after patch, expected -0", sum)
	}
	if strings.Contains(string(b[:blockSize]), checksumPlaceholder) {
		t.Error("placeholder not replaced")
	}
}

func TestHeaderLen(t *testing.T) {
	b := []byte(card("SIMPLE  =                    T") + card("END"))
	n, err := headerLen(b)
	if err != nil || n != blockSize {
		t.Errorf("headerLen = %d, %v", n, err)
	}
	if _, err := headerLen([]byte(card("SIMPLE  =                    T"))); err == nil {
		t.Error("header without END accepted")
	}
}
