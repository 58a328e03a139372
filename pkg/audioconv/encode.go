package audioconv

import (
	"errors"
	"math/rand"

	opus "gopkg.in/hraban/opus.v2"
)

const (
	opusSampleRate = 48000
	opusFrameSize  = 960 // 20 ms at 48 kHz
	opusPreSkip    = 312

	defaultBitrate = 32000
)

type EncodeOptions struct {
	Bitrate int // bit/s; 0 means 32k
}

// EncodeOggOpus encodes mono PCM into an Ogg/Opus voice note: 48 kHz, one
// channel, low fixed bitrate. This is the delivery format Telegram expects
// for voice messages.
func EncodeOggOpus(pcm PCM, opts EncodeOptions) ([]byte, error) {
	if len(pcm.Samples) == 0 {
		return nil, &TranscodeError{Op: "encode opus", Err: errors.New("no samples")}
	}
	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = defaultBitrate
	}

	samples := pcm.Samples
	if pcm.SampleRate != opusSampleRate {
		samples = resampleLinear(samples, pcm.SampleRate, opusSampleRate)
	}

	enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, &TranscodeError{Op: "encode opus", Err: err}
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, &TranscodeError{Op: "encode opus", Err: err}
	}

	w := newOggOpusWriter(rand.Uint32(), opusPreSkip)

	frame := make([]int16, opusFrameSize)
	packet := make([]byte, 4000)
	for off := 0; off < len(samples); off += opusFrameSize {
		end := off + opusFrameSize
		last := end >= len(samples)
		for i := range frame {
			if off+i < len(samples) {
				frame[i] = floatToInt16(samples[off+i])
			} else {
				frame[i] = 0 // pad the tail frame
			}
		}
		n, err := enc.Encode(frame, packet)
		if err != nil {
			return nil, &TranscodeError{Op: "encode opus", Err: err}
		}
		w.appendPacket(packet[:n], opusFrameSize, last)
	}

	return w.bytes(), nil
}

func floatToInt16(v float32) int16 {
	x := clamp(float64(v), -1.0, 1.0) * 32767.0
	return int16(x)
}
