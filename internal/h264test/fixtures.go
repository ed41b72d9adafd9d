// Package h264test holds H.264 byte fixtures and stream helpers shared by
// package tests.
package h264test

import (
	"encoding/binary"
	"math/rand"
)

var (
	// SPS describes a 352x288 high profile stream.
	SPS = []byte{
		0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
		0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
		0x00, 0x03, 0x00, 0x3d, 0x08,
	}

	// SPS720 describes a 1280x720 high profile stream.
	SPS720 = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6c, 0x80, 0x00, 0x00, 0x03,
		0x00, 0x80, 0x00, 0x00, 0x1e, 0x07, 0x8c, 0x18,
		0xcb,
	}

	PPS    = []byte{0x68, 0xee, 0x3c, 0x80}
	PPSAlt = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}

	IDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff, 0x21, 0x9c}
	NonIDR = []byte{0x41, 0x9a, 0x21, 0x6c, 0x41, 0x0f}
	SEI    = []byte{0x06, 0x05, 0x02, 0xaa, 0xbb, 0x80}

	// BadSPS classifies as an SPS but cannot be parsed.
	BadSPS = []byte{0x67, 0xff}
)

// AnnexB joins payloads with 4-byte start codes.
func AnnexB(payloads ...[]byte) []byte {
	var out []byte
	for _, p := range payloads {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, p...)
	}
	return out
}

// AVCC joins payloads with 4-byte big-endian length prefixes.
func AVCC(payloads ...[]byte) []byte {
	var out []byte
	for _, p := range payloads {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

// Split cuts buf at the given offsets. Offsets must be ascending.
func Split(buf []byte, offsets ...int) [][]byte {
	var chunks [][]byte
	prev := 0
	for _, off := range offsets {
		chunks = append(chunks, buf[prev:off])
		prev = off
	}
	return append(chunks, buf[prev:])
}

// RandomSplit cuts buf into chunks of 1..maxChunk bytes.
func RandomSplit(rng *rand.Rand, buf []byte, maxChunk int) [][]byte {
	var chunks [][]byte
	for len(buf) > 0 {
		n := 1 + rng.Intn(maxChunk)
		if n > len(buf) {
			n = len(buf)
		}
		chunks = append(chunks, buf[:n])
		buf = buf[n:]
	}
	return chunks
}

// Payload returns a synthetic slice payload of n bytes with the given header
// byte. The body never contains a zero byte, so it never forms a start code.
func Payload(header byte, n int) []byte {
	p := make([]byte, n)
	p[0] = header
	for i := 1; i < n; i++ {
		p[i] = byte(i%251) + 1
	}
	return p
}
