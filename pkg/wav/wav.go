// Package wav builds canonical 44-byte RIFF/WAVE containers around raw PCM.
//
// The format parameters are fixed; backends rely on the header being
// byte-identical for identical payloads.
package wav

import "encoding/binary"

const (
	SampleRate     = 96000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
	HeaderSize     = 44

	ByteRate   = SampleRate * Channels * BytesPerSample
	BlockAlign = Channels * BytesPerSample
)

// Header returns the container header for a payload of dataLen bytes.
func Header(dataLen int) [HeaderSize]byte {
	var h [HeaderSize]byte
	n := uint32(dataLen)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], n+HeaderSize-8)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], ByteRate)
	binary.LittleEndian.PutUint16(h[32:34], BlockAlign)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], n)
	return h
}

// Encode returns header(len(pcm)) followed by pcm. The input is not retained.
func Encode(pcm []byte) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	h := Header(len(pcm))
	copy(out, h[:])
	copy(out[HeaderSize:], pcm)
	return out
}

// EncodeChunks encodes the concatenation of chunks without an intermediate copy.
func EncodeChunks(chunks [][]byte) []byte {
	n := PayloadLen(chunks)
	out := make([]byte, HeaderSize+n)
	h := Header(n)
	copy(out, h[:])
	off := HeaderSize
	for _, c := range chunks {
		off += copy(out[off:], c)
	}
	return out
}

// PayloadLen is the total byte length of chunks.
func PayloadLen(chunks [][]byte) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}

// Duration returns the audio length in seconds for a payload of dataLen bytes.
func Duration(dataLen int) float64 {
	return float64(dataLen) / float64(ByteRate)
}
