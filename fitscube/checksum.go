package fitscube

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	// blockSize is the FITS logical record length
	blockSize = 2880

	// cardSize is the length of one header card
	cardSize = 80

	// checksumPlaceholder is written before the checksum is known.  It is
	// sixteen ASCII zeros, which the encoding below offsets against.
	checksumPlaceholder = "0000000000000000"
)

// checksumExclude are the punctuation characters between the digits and
// letters that the ASCII checksum encoding avoids
var checksumExclude = []byte{0x3a, 0x3b, 0x3c, 0x3d, 0x3e, 0x3f, 0x40,
	0x5b, 0x5c, 0x5d, 0x5e, 0x5f, 0x60}

// onesSum adds the big-endian 32-bit words of b to sum in ones' complement
// arithmetic.  len(b) must be a multiple of 4, which every FITS block is.
func onesSum(sum uint32, b []byte) uint32 {
	s := uint64(sum)
	for i := 0; i+4 <= len(b); i += 4 {
		s += uint64(binary.BigEndian.Uint32(b[i:]))
	}
	for s>>32 != 0 {
		s = (s & 0xffffffff) + (s >> 32)
	}
	return uint32(s)
}

// encodeChecksum is the 16 character ASCII encoding of value, to be placed
// at byte offset off of the HDU.  The characters are rotated so that each
// one lands on the byte of the 32-bit word it was derived from.
func encodeChecksum(value uint32, off int) string {
	var asc [16]byte
	for i := 0; i < 4; i++ {
		b := int(value>>(24-8*uint(i))) & 0xff
		q := b/4 + 0x30
		r := b % 4
		ch := [4]int{q + r, q, q, q}
		for again := true; again; {
			again = false
			for _, ex := range checksumExclude {
				for j := 0; j < 4; j += 2 {
					if ch[j] == int(ex) || ch[j+1] == int(ex) {
						ch[j]++
						ch[j+1]--
						again = true
					}
				}
			}
		}
		for j := 0; j < 4; j++ {
			asc[4*j+i] = byte(ch[j])
		}
	}
	var out [16]byte
	shift := 12 + off%4
	for s := range out {
		out[s] = asc[(s+shift)%16]
	}
	return string(out[:])
}

// headerLen is the length of the header of the HDU at the start of b,
// rounded up to whole blocks
func headerLen(b []byte) (int, error) {
	for i := 0; i+cardSize <= len(b); i += cardSize {
		card := b[i : i+cardSize]
		if string(card[:3]) == "END" && len(bytes.TrimRight(card[3:], " ")) == 0 {
			n := i + cardSize
			return (n + blockSize - 1) / blockSize * blockSize, nil
		}
	}
	return 0, fmt.Errorf("no END card in %d bytes of header", len(b))
}

// placeholderOffset locates the value of the CHECKSUM card in an encoded header
func placeholderOffset(b []byte, hlen int) (int, error) {
	for i := 0; i+cardSize <= hlen; i += cardSize {
		card := b[i : i+cardSize]
		if !bytes.HasPrefix(card, []byte("CHECKSUM=")) {
			continue
		}
		j := bytes.Index(card, []byte("'"+checksumPlaceholder+"'"))
		if j < 0 {
			return 0, fmt.Errorf("CHECKSUM card does not hold the placeholder: %q", card)
		}
		return i + j + 1, nil
	}
	return 0, fmt.Errorf("no CHECKSUM card in header")
}

// datasum is the DATASUM keyword value for the data blocks of an HDU
func datasum(data []byte) string {
	return strconv.FormatUint(uint64(onesSum(0, data)), 10)
}

// patchChecksum computes the HDU checksum of the encoded HDU b, whose
// CHECKSUM card holds the placeholder, and writes it in place.  The ones'
// complement sum of b is -0 (0xffffffff) afterwards.
func patchChecksum(b []byte) error {
	hlen, err := headerLen(b)
	if err != nil {
		return err
	}
	off, err := placeholderOffset(b, hlen)
	if err != nil {
		return err
	}
	sum := onesSum(0, b)
	copy(b[off:], encodeChecksum(^sum, off))
	return nil
}
