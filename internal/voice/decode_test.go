package voice

import (
	"errors"
	"math"
	"testing"

	"github.com/hraban/opus"
)

func TestPCMDecoder16BitMono(t *testing.T) {
	dec, err := NewDecoder(AudioConfig{SampleRate: 16000, Channels: 1, SampleWidth: 2, Encoding: EncodingPCM})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	// 0, 16384, -32768, 32767
	payload := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80, 0xff, 0x7f}
	got, err := dec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	if len(got) != len(want) {
		t.Fatalf("length: want=%d got=%d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: want=%v got=%v", i, want[i], got[i])
		}
	}
}

func TestPCMDecoderStereoDownmix(t *testing.T) {
	dec, _ := NewDecoder(AudioConfig{SampleRate: 16000, Channels: 2, SampleWidth: 2})
	// L=16384 R=0 -> 0.25
	got, err := dec.Decode([]byte{0x00, 0x40, 0x00, 0x00})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 || got[0] != 0.25 {
		t.Fatalf("unexpected downmix result: %v", got)
	}
}

func TestPCMDecoderWidths(t *testing.T) {
	cases := []struct {
		width   int
		payload []byte
		want    float32
	}{
		{1, []byte{0x80}, 0},
		{1, []byte{0x00}, -1},
		{3, []byte{0x00, 0x00, 0x40}, 0.5},
		{3, []byte{0x00, 0x00, 0x80}, -1},
		{4, []byte{0x00, 0x00, 0x00, 0xc0}, -0.5},
	}
	for _, c := range cases {
		dec, _ := NewDecoder(AudioConfig{SampleRate: 16000, Channels: 1, SampleWidth: c.width})
		got, err := dec.Decode(c.payload)
		if err != nil {
			t.Fatalf("width %d: %v", c.width, err)
		}
		if got[0] != c.want {
			t.Errorf("width %d: want=%v got=%v", c.width, c.want, got[0])
		}
	}
}

func TestPCMDecoderRejectsMalformed(t *testing.T) {
	dec, _ := NewDecoder(AudioConfig{SampleRate: 16000, Channels: 1, SampleWidth: 2})
	if _, err := dec.Decode([]byte{0x01, 0x02, 0x03}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for odd length, got %v", err)
	}
	if _, err := dec.Decode(nil); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for empty payload, got %v", err)
	}
}

func TestNewDecoderUnknownEncoding(t *testing.T) {
	if _, err := NewDecoder(AudioConfig{SampleRate: 16000, Channels: 1, SampleWidth: 2, Encoding: "flac"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestOpusDecoderRoundTrip(t *testing.T) {
	const sr, frame = 16000, 320 // 20 ms
	enc, err := opus.NewEncoder(sr, 1, opus.AppVoIP)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	pcm := make([]int16, frame)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/sr))
	}
	packet := make([]byte, 1000)
	n, err := enc.Encode(pcm, packet)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec, err := NewDecoder(AudioConfig{SampleRate: sr, Channels: 1, SampleWidth: 2, Encoding: EncodingOpus})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got, err := dec.Decode(packet[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != frame {
		t.Fatalf("decoded samples: want=%d got=%d", frame, len(got))
	}
	if _, err := dec.Decode(nil); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("empty packet: want ErrMalformedFrame, got %v", err)
	}
}
