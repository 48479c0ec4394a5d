package audio

// Resample8kTo16k resamples 8kHz PCM16 audio to 16kHz using linear interpolation
func Resample8kTo16k(pcm8k []byte) []byte {
	if len(pcm8k) < 2 {
		return nil
	}

	samples8k := bytesToSamples(pcm8k)
	samples16k := make([]int16, len(samples8k)*2)

	for i := 0; i < len(samples8k); i++ {
		samples16k[i*2] = samples8k[i]

		if i < len(samples8k)-1 {
			samples16k[i*2+1] = int16((int32(samples8k[i]) + int32(samples8k[i+1])) / 2)
		} else {
			samples16k[i*2+1] = samples8k[i]
		}
	}

	return samplesToBytes(samples16k)
}

// Resample16kTo8k resamples 16kHz PCM16 audio to 8kHz, averaging each sample pair
func Resample16kTo8k(pcm16k []byte) []byte {
	if len(pcm16k) < 4 {
		return nil
	}

	samples16k := bytesToSamples(pcm16k)
	samples8k := make([]int16, len(samples16k)/2)
	for i := range samples8k {
		samples8k[i] = int16((int32(samples16k[i*2]) + int32(samples16k[i*2+1])) / 2)
	}

	return samplesToBytes(samples8k)
}

func bytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
