package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Canonical input envelope for the speech service: 16 kHz mono PCM s16le.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	wavHeaderSize = 44
)

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
	blockAlign    uint16
}

func (f wavFormat) bytesPerSecond() int64 {
	return int64(f.sampleRate) * int64(f.blockAlign)
}

// EncodeWAV wraps raw little-endian PCM samples in a canonical 44-byte header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	blockAlign := channels * BitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(BitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// readWAVHeader walks the RIFF chunks up to "data" and returns the format
// together with the byte offset and length of the sample data.
func readWAVHeader(r io.ReadSeeker) (wavFormat, int64, int64, error) {
	var format wavFormat

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return format, 0, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return format, 0, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	offset := int64(12)
	haveFormat := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return format, 0, 0, fmt.Errorf("%w: no data chunk: %v", ErrInvalidWAV, err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			if size < 16 {
				return format, 0, 0, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return format, 0, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			format = wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				channels:      binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				blockAlign:    binary.LittleEndian.Uint16(body[12:14]),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
			haveFormat = true
			if _, err := r.Seek(offset+size+size%2, io.SeekStart); err != nil {
				return format, 0, 0, err
			}
		case "data":
			if !haveFormat {
				return format, 0, 0, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}
			return format, offset, size, nil
		default:
			if _, err := r.Seek(offset+size+size%2, io.SeekStart); err != nil {
				return format, 0, 0, err
			}
		}
		offset += size + size%2
	}
}
