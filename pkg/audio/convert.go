package audio

// Resample converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged. The output length is
// ceil(srcSamples*dstRate/srcRate) samples.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / BytesPerSample
	dstSamples := int((int64(srcSamples)*int64(dstRate) + int64(srcRate) - 1) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= srcSamples {
			srcIdx = srcSamples - 1
		}
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ScaleGain multiplies each sample by factor, saturating to the int16 range.
// The input frame is not modified. A trailing odd byte is dropped.
func ScaleGain(pcm []byte, factor float64) []byte {
	samples := len(pcm) / BytesPerSample
	out := make([]byte, samples*BytesPerSample)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		scaled := float64(s) * factor

		// Clamp to int16 range.
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}

		v := int16(scaled)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
