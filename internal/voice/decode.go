package voice

import (
	"errors"
	"fmt"

	"github.com/hraban/opus"
)

// ErrMalformedFrame is returned when a binary payload cannot be decoded with
// the session's audio format.
var ErrMalformedFrame = errors.New("malformed audio frame")

// Decoder turns one inbound binary payload into normalized mono samples.
type Decoder interface {
	Decode(payload []byte) ([]float32, error)
}

// NewDecoder returns the decoder for cfg.Audio.
func NewDecoder(cfg AudioConfig) (Decoder, error) {
	switch cfg.Encoding {
	case EncodingOpus:
		return newOpusDecoder(cfg.SampleRate, cfg.Channels)
	case EncodingPCM, "":
		return pcmDecoder{width: cfg.SampleWidth, channels: cfg.Channels}, nil
	default:
		return nil, fmt.Errorf("%w: encoding %q", ErrInvalidConfig, cfg.Encoding)
	}
}

// pcmDecoder reads little-endian fixed-point PCM. Width 1 is unsigned 8-bit
// (WAV convention); widths 2 to 4 are signed. Interleaved channels are
// averaged down to mono.
type pcmDecoder struct {
	width    int
	channels int
}

func (d pcmDecoder) Decode(payload []byte) ([]float32, error) {
	block := d.width * d.channels
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if block <= 0 || len(payload)%block != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d-byte sample blocks", ErrMalformedFrame, len(payload), block)
	}
	n := len(payload) / block
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		base := i * block
		for c := 0; c < d.channels; c++ {
			sum += pcmSample(payload[base+c*d.width:], d.width)
		}
		out[i] = sum / float32(d.channels)
	}
	return out, nil
}

func pcmSample(b []byte, width int) float32 {
	switch width {
	case 1:
		return (float32(b[0]) - 128) / 128
	case 2:
		return float32(int16(uint16(b[0])|uint16(b[1])<<8)) / 32768
	case 3:
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		return float32(v) / 8388608
	default:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
		return float32(float64(v) / 2147483648)
	}
}

// opusDecoder decodes one Opus packet per binary message.
type opusDecoder struct {
	dec      *opus.Decoder
	channels int
	pcm      []int16
}

func newOpusDecoder(sampleRate, channels int) (*opusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	// 120 ms is the longest frame an Opus packet can carry
	return &opusDecoder{
		dec:      dec,
		channels: channels,
		pcm:      make([]int16, sampleRate*120/1000*channels),
	}, nil
}

func (d *opusDecoder) Decode(payload []byte) ([]float32, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	n, err := d.dec.Decode(payload, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("%w: opus: %v", ErrMalformedFrame, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: opus packet decoded to no samples", ErrMalformedFrame)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < d.channels; c++ {
			sum += float32(d.pcm[i*d.channels+c]) / 32768
		}
		out[i] = sum / float32(d.channels)
	}
	return out, nil
}
