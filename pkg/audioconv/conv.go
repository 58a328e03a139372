// Package audioconv converts short, fully-buffered voice clips between the
// formats the bot deals in: mp3/wav/ogg on the way in, ogg/opus voice notes
// on the way out. Everything operates on whole buffers; payloads are small
// because the platform caps voice-message size.
package audioconv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// TranscodeError reports an input that could not be decoded or an encode
// failure. Non-fatal: callers fall back to a text reply.
type TranscodeError struct {
	Op  string
	Err error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("audioconv: %s: %v", e.Op, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// PCM is mono float32 audio in [-1, 1] at its native sample rate.
type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(p.Samples)) / float64(p.SampleRate) * float64(time.Second))
}

// Converter is the delivery-side transcoder: provider-native mp3 in,
// platform voice note (ogg/opus, mono, low bitrate) out.
type Converter struct {
	Bitrate int // opus bitrate in bit/s; 0 means 32k
}

func (c Converter) MP3ToVoice(data []byte) ([]byte, error) {
	pcm, err := Decode(data, "mp3")
	if err != nil {
		return nil, err
	}
	return EncodeOggOpus(pcm, EncodeOptions{Bitrate: c.Bitrate})
}

// Decode decodes a buffered clip to mono PCM. The hint is a file extension
// or MIME type; when it does not resolve, the container is sniffed from the
// leading bytes.
func Decode(data []byte, hint string) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, &TranscodeError{Op: "decode", Err: errors.New("empty input")}
	}

	switch normalizeHint(hint) {
	case "wav":
		return decodeWAV(data)
	case "mp3":
		return decodeMP3(data)
	case "ogg":
		return decodeOgg(data)
	}

	// Hint didn't resolve; sniff the container.
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return decodeWAV(data)
	case bytes.HasPrefix(data, []byte("OggS")):
		return decodeOgg(data)
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return decodeMP3(data)
	}
	return PCM{}, &TranscodeError{Op: "decode", Err: fmt.Errorf("unrecognized container (hint %q)", hint)}
}

func normalizeHint(hint string) string {
	h := strings.ToLower(strings.TrimPrefix(hint, "."))
	switch h {
	case "wav", "audio/wav", "audio/x-wav":
		return "wav"
	case "mp3", "audio/mpeg", "audio/mp3":
		return "mp3"
	case "ogg", "oga", "opus", "audio/ogg", "audio/opus":
		return "ogg"
	}
	return ""
}

func decodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, &TranscodeError{Op: "decode wav", Err: errors.New("invalid wav")}
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return PCM{}, &TranscodeError{Op: "decode wav", Err: err}
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	if ch > 1 {
		x = downmixInterleaved(x, ch)
	}
	return PCM{Samples: x, SampleRate: sr}, nil
}

func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, &TranscodeError{Op: "decode mp3", Err: err}
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, &TranscodeError{Op: "decode mp3", Err: err}
	}
	x := int16SliceToFloat32(bytesToInt16LE(raw))
	x = downmixInterleaved(x, 2) // go-mp3 always outputs stereo

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return PCM{Samples: x, SampleRate: sr}, nil
}

func decodeOgg(data []byte) (PCM, error) {
	// The Ogg container carries either Vorbis or Opus; try Vorbis first,
	// then fall back to Opus.
	if pcm, err := decodeOggVorbis(data); err == nil {
		return pcm, nil
	}
	pcm, err := decodeOggOpus(data)
	if err != nil {
		return PCM{}, &TranscodeError{Op: "decode ogg", Err: fmt.Errorf("neither vorbis nor opus: %w", err)}
	}
	return pcm, nil
}

func decodeOggVorbis(data []byte) (PCM, error) {
	pcm, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return PCM{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return PCM{}, errors.New("invalid ogg/vorbis stream")
	}
	x := pcm
	if format.Channels > 1 {
		x = downmixInterleaved(pcm, format.Channels)
	}
	return PCM{Samples: x, SampleRate: format.SampleRate}, nil
}

func decodeOggOpus(data []byte) (PCM, error) {
	dec, err := popus.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opusfile always decodes at 48 kHz.
	var (
		out []float32
		buf = make([]int16, 4800*ch) // 100 ms per read
	)
	for {
		n, err := dec.Read(buf) // n = samples per channel
		if n > 0 {
			out = append(out, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, err
		}
	}
	if ch > 1 {
		out = downmixInterleaved(out, ch)
	}
	return PCM{Samples: out, SampleRate: 48000}, nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func bytesToInt16LE(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(float64(len(in)) * ratio)
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(src)
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
