package audio

import (
	"errors"
	"fmt"
)

// Format names an audio encoding as the voice agent advertises it.
type Format string

const (
	FormatMuLaw8k Format = "ulaw_8000"
	FormatPCM8k   Format = "pcm_8000"
	FormatPCM16k  Format = "pcm_16000"
)

// TelephonyFormat is what media streams carry in both directions.
const TelephonyFormat = FormatMuLaw8k

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Converter rewrites audio chunks from one format to another.
type Converter func([]byte) []byte

// NewConverter returns the conversion from one format to another.
// Identical formats convert to a pass-through.
func NewConverter(from, to Format) (Converter, error) {
	toPCM8k, err := decoderFor(from)
	if err != nil {
		return nil, err
	}
	fromPCM8k, err := encoderFor(to)
	if err != nil {
		return nil, err
	}

	if from == to {
		return func(b []byte) []byte { return b }, nil
	}
	return func(b []byte) []byte { return fromPCM8k(toPCM8k(b)) }, nil
}

func decoderFor(f Format) (Converter, error) {
	switch f {
	case FormatMuLaw8k:
		return DecodeMuLaw, nil
	case FormatPCM8k:
		return func(b []byte) []byte { return b }, nil
	case FormatPCM16k:
		return Resample16kTo8k, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

func encoderFor(f Format) (Converter, error) {
	switch f {
	case FormatMuLaw8k:
		return EncodeMuLaw, nil
	case FormatPCM8k:
		return func(b []byte) []byte { return b }, nil
	case FormatPCM16k:
		return Resample8kTo16k, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}
