// Package audio implements the pure-function audio codec the call
// orchestrator pipes PCM and carrier media frames through: PCM16->mu-law
// encoding (there is no mu-law decoder), 24kHz->8kHz decimation, and the carrier's JSON media-frame envelope.
package audio

import (
	"encoding/base64"
	"encoding/json"
)

// FrameSize is the length in bytes of one 20ms mu-law frame at 8kHz mono.
const FrameSize = 160

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// PCM16ToMulaw encodes signed 16-bit linear PCM (little-endian, mono) to
// 8-bit mu-law. len(out) == len(pcm)/2.
func PCM16ToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = encodeSample(sample)
	}
	return out
}

func encodeSample(sample int16) byte {
	var sign byte
	s := int(sample)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	// Find the exponent (the position of the most significant bit above
	// the 7-bit mantissa window), then extract the 4-bit mantissa.
	exponent := 7
	for mask := 0x4000; (s&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> uint(exponent+3)) & 0x0F)
	encoded := sign | byte(exponent<<4) | mantissa
	return ^encoded
}

// Resample24kTo8k decimates signed 16-bit linear PCM from 24kHz to 8kHz by
// keeping every third sample. No anti-alias filter is applied; this matches
// the reference implementation's behavior and is a known quality
// trade-off, not a bug.
func Resample24kTo8k(pcm []byte) []byte {
	samples := len(pcm) / 2
	outSamples := samples / 3
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		src := 3 * i * 2
		out[2*i] = pcm[src]
		out[2*i+1] = pcm[src+1]
	}
	return out
}

type mediaEnvelope struct {
	Event string `json:"event"`
	Media struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
}

// ExtractInboundAudio parses a carrier media-frame JSON message and, if it
// carries an inbound audio payload, returns the decoded bytes. Non-JSON
// input, or a frame that isn't an inbound media frame, returns (nil, false)
// without an error.
func ExtractInboundAudio(msg []byte) ([]byte, bool) {
	var env mediaEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false
	}
	if env.Media.Track != "inbound" || env.Media.Payload == "" {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// MakeMediaMessage builds the outbound carrier media-frame JSON for a
// mu-law audio chunk. streamSid is omitted from the envelope when empty.
func MakeMediaMessage(audioChunk []byte, streamSid string) []byte {
	type media struct {
		Payload string `json:"payload"`
	}
	type frame struct {
		Event     string `json:"event"`
		Media     media  `json:"media"`
		StreamSid string `json:"streamSid,omitempty"`
	}

	f := frame{
		Event:     "media",
		Media:     media{Payload: base64.StdEncoding.EncodeToString(audioChunk)},
		StreamSid: streamSid,
	}
	// frame construction never fails: all fields are plain strings.
	data, _ := json.Marshal(f)
	return data
}

// SplitFrames splits a mu-law buffer into FrameSize-byte chunks. The final
// chunk may be shorter than FrameSize if the buffer's length isn't a
// multiple of it.
func SplitFrames(mulaw []byte) [][]byte {
	var frames [][]byte
	for i := 0; i < len(mulaw); i += FrameSize {
		end := i + FrameSize
		if end > len(mulaw) {
			end = len(mulaw)
		}
		frames = append(frames, mulaw[i:end])
	}
	return frames
}
