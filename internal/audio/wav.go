package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	numChannels   = 1
)

var ErrOddFrame = errors.New("pcm frame length is not a multiple of 4 bytes")

// EncodeWAV wraps float samples in [-1, 1] into a 16-bit mono PCM WAV.
// Out-of-range samples are clamped.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))

	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	pcm := make([]byte, 2)
	for _, s := range samples {
		binary.LittleEndian.PutUint16(pcm, uint16(floatToPCM16(s)))
		buf.Write(pcm)
	}
	return buf.Bytes()
}

func floatToPCM16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// DecodeFloat32LE decodes little-endian IEEE-754 float32 PCM.
func DecodeFloat32LE(frame []byte) ([]float32, error) {
	if len(frame)%4 != 0 {
		return nil, ErrOddFrame
	}
	samples := make([]float32, len(frame)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(frame[i*4:]))
	}
	return samples, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
