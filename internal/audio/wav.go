package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeWAV wraps float32 mono samples in a 16-bit PCM WAV container,
// the format the transcription endpoint consumes.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(pcm16(s)))
	}
	buf.Write(data)
	return buf.Bytes()
}

// DecodeWAV extracts float32 mono samples from a 16-bit PCM WAV file.
// Multi-channel input is downmixed by averaging.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a WAV file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
		haveFmt    bool
	)

	// Walk the chunk list; fmt and data can appear in any order and
	// other chunks (LIST, fact) may sit between them.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("malformed fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			if format != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("unsupported WAV format: pcm=%d bits=%d", format, bits)
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if !haveFmt || pcm == nil {
		return nil, 0, fmt.Errorf("WAV missing fmt or data chunk")
	}
	if channels < 1 {
		return nil, 0, fmt.Errorf("WAV has no channels")
	}

	frames := len(pcm) / (2 * channels)
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:]))
			sum += float64(v) / 32768.0
		}
		samples[i] = float32(sum / float64(channels))
	}
	return samples, sampleRate, nil
}

func pcm16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}
