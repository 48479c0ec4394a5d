package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// DecodeMuLaw converts G.711 μ-law bytes to 16-bit signed little-endian PCM.
func DecodeMuLaw(muLaw []byte) []byte {
	if len(muLaw) == 0 {
		return nil
	}

	samples := make([]int16, len(muLaw))
	for i, mu := range muLaw {
		samples[i] = muLawToLinear(mu)
	}
	return samplesToBytes(samples)
}

// EncodeMuLaw converts 16-bit signed little-endian PCM to G.711 μ-law bytes.
// A trailing odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	if len(pcm) < 2 {
		return nil
	}

	samples := bytesToSamples(pcm)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMuLaw(s)
	}
	return out
}

func muLawToLinear(mu byte) int16 {
	mu = ^mu
	t := (int32(mu&0x0F) << 3) + muLawBias
	t <<= (mu & 0x70) >> 4
	if mu&0x80 != 0 {
		return int16(muLawBias - t)
	}
	return int16(t - muLawBias)
}

func linearToMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}
