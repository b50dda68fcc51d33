// Package wav implements just enough of the RIFF/WAVE container format
// to read and write 16-bit PCM mono/stereo files for the CLI harness.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// File holds decoded PCM samples as per-channel float64 slices in [-1, 1].
type File struct {
	SampleRate int
	Channels   [][]float64
}

// Read decodes a 16-bit PCM WAV file from path.
func Read(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riffHeader [12]byte
	if _, err := io.ReadFull(f, riffHeader[:]); err != nil {
		return nil, fmt.Errorf("wav: read header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var numChannels, bitsPerSample uint16
	var sampleRate uint32
	var pcm []byte

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])
		body := make([]byte, size)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, fmt.Errorf("wav: read chunk %q: %w", id, err)
		}
		if size%2 == 1 {
			var pad [1]byte
			io.ReadFull(f, pad[:])
		}
		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("wav: short fmt chunk")
			}
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
		case "data":
			pcm = body
		}
	}

	if numChannels == 0 || bitsPerSample != 16 {
		return nil, fmt.Errorf("wav: only 16-bit PCM is supported (got %d channels, %d bits)", numChannels, bitsPerSample)
	}

	frameCount := len(pcm) / (2 * int(numChannels))
	chans := make([][]float64, numChannels)
	for c := range chans {
		chans[c] = make([]float64, frameCount)
	}
	for i := 0; i < frameCount; i++ {
		for c := 0; c < int(numChannels); c++ {
			offset := (i*int(numChannels) + c) * 2
			v := int16(binary.LittleEndian.Uint16(pcm[offset : offset+2]))
			chans[c][i] = float64(v) / 32768
		}
	}

	return &File{SampleRate: int(sampleRate), Channels: chans}, nil
}

// Write encodes channels (each the same length, samples in [-1, 1]) as a
// 16-bit PCM WAV file at path.
func Write(path string, sampleRate int, channels [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	numChannels := len(channels)
	frameCount := 0
	if numChannels > 0 {
		frameCount = len(channels[0])
	}
	dataSize := frameCount * numChannels * 2
	byteRate := sampleRate * numChannels * 2
	blockAlign := numChannels * 2

	writeString(f, "RIFF")
	writeUint32(f, uint32(36+dataSize))
	writeString(f, "WAVE")

	writeString(f, "fmt ")
	writeUint32(f, 16)
	writeUint16(f, 1) // PCM
	writeUint16(f, uint16(numChannels))
	writeUint32(f, uint32(sampleRate))
	writeUint32(f, uint32(byteRate))
	writeUint16(f, uint16(blockAlign))
	writeUint16(f, 16)

	writeString(f, "data")
	writeUint32(f, uint32(dataSize))

	buf := make([]byte, 2)
	for i := 0; i < frameCount; i++ {
		for c := 0; c < numChannels; c++ {
			s := channels[c][i]
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			binary.LittleEndian.PutUint16(buf, uint16(int16(s*32767)))
			f.Write(buf)
		}
	}
	return nil
}

func writeString(w io.Writer, s string) { io.WriteString(w, s) }

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint16(w io.Writer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}
