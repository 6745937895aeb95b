// ABOUTME: Decodes MP3, FLAC, and WAV files to signed 16-bit little-endian PCM
// ABOUTME: Also probes stream format and length without a full decode
package library

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// OutputBitDepth is the sample width of every decoded buffer
const OutputBitDepth = 16

// Format describes decoded PCM
type Format struct {
	SampleRate int
	Channels   int
	// Frames is the number of samples per channel
	Frames int64
	// SourceCodec is the container the PCM was decoded from (mp3, flac, wav)
	SourceCodec string
}

// Bytes returns the size of the decoded buffer in bytes
func (f Format) Bytes() int64 {
	return f.Frames * int64(f.Channels) * OutputBitDepth / 8
}

// decoder probes and decodes one container format
type decoder interface {
	probe(path string) (Format, error)
	decode(path string) ([]byte, Format, error)
}

var decoders = map[string]decoder{
	".mp3":  mp3Decoder{},
	".flac": flacDecoder{},
	".wav":  wavDecoder{},
}

// SupportedExtensions returns the file extensions the library will serve
func SupportedExtensions() []string {
	return []string{".mp3", ".flac", ".wav"}
}

// IsSupported reports whether a file name has a decodable extension
func IsSupported(name string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(name))]
	return ok
}

func decoderFor(name string) (decoder, error) {
	ext := strings.ToLower(filepath.Ext(name))
	d, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return d, nil
}

// mp3Decoder uses go-mp3, which always yields 16-bit stereo
type mp3Decoder struct{}

func (mp3Decoder) probe(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return Format{}, fmt.Errorf("failed to decode MP3: %w", err)
	}

	return Format{
		SampleRate:  d.SampleRate(),
		Channels:    2,
		Frames:      d.Length() / 4,
		SourceCodec: "mp3",
	}, nil
}

func (mp3Decoder) decode(path string) ([]byte, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to decode MP3: %w", err)
	}

	data, err := io.ReadAll(d)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to read MP3 samples: %w", err)
	}

	// Drop a trailing partial frame so the buffer stays frame aligned
	data = data[:len(data)-len(data)%4]

	return data, Format{
		SampleRate:  d.SampleRate(),
		Channels:    2,
		Frames:      int64(len(data) / 4),
		SourceCodec: "mp3",
	}, nil
}

// flacDecoder uses mewkiz/flac and rescales any bit depth to 16
type flacDecoder struct{}

func (flacDecoder) probe(path string) (Format, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	defer stream.Close()

	return Format{
		SampleRate:  int(stream.Info.SampleRate),
		Channels:    int(stream.Info.NChannels),
		Frames:      int64(stream.Info.NSamples),
		SourceCodec: "flac",
	}, nil
}

func (flacDecoder) decode(path string) ([]byte, Format, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to decode FLAC: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)

	var buf bytes.Buffer
	buf.Grow(int(stream.Info.NSamples) * channels * 2)

	var frames int64
	sample := make([]byte, 2)
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Format{}, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				v := scaleTo16(frame.Subframes[ch].Samples[i], bitDepth)
				binary.LittleEndian.PutUint16(sample, uint16(v))
				buf.Write(sample)
			}
		}
		frames += int64(frame.BlockSize)
	}

	return buf.Bytes(), Format{
		SampleRate:  int(stream.Info.SampleRate),
		Channels:    channels,
		Frames:      frames,
		SourceCodec: "flac",
	}, nil
}

// scaleTo16 converts a sample of the given bit depth to the int16 range
func scaleTo16(sample int32, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(sample << (16 - bitDepth))
	default:
		return int16(sample)
	}
}

// wavDecoder uses beep's WAV reader
type wavDecoder struct{}

func (wavDecoder) probe(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	s, format, err := wav.Decode(f)
	if err != nil {
		return Format{}, fmt.Errorf("failed to decode WAV: %w", err)
	}
	defer s.Close()

	return Format{
		SampleRate:  int(format.SampleRate),
		Channels:    format.NumChannels,
		Frames:      int64(s.Len()),
		SourceCodec: "wav",
	}, nil
}

func (wavDecoder) decode(path string) ([]byte, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	s, format, err := wav.Decode(f)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to decode WAV: %w", err)
	}
	defer s.Close()

	out := beep.Format{
		SampleRate:  format.SampleRate,
		NumChannels: format.NumChannels,
		Precision:   OutputBitDepth / 8,
	}

	var buf bytes.Buffer
	buf.Grow(s.Len() * out.Width())

	var frames int64
	samples := make([][2]float64, 512)
	frame := make([]byte, out.Width())
	for {
		n, ok := s.Stream(samples)
		for i := 0; i < n; i++ {
			out.EncodeSigned(frame, samples[i])
			buf.Write(frame)
		}
		frames += int64(n)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, Format{}, fmt.Errorf("failed to read WAV samples: %w", err)
	}

	return buf.Bytes(), Format{
		SampleRate:  int(format.SampleRate),
		Channels:    format.NumChannels,
		Frames:      frames,
		SourceCodec: "wav",
	}, nil
}
