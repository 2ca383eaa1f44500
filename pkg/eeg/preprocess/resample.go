package preprocess

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resampleChannels converts the multi-channel signal from srcRate to
// dstRate using the polyphase resampler, treating the channels as one
// interleaved frame stream. The filter tail is flushed with zero frames
// and the output truncated to the exact expected length.
func resampleChannels(data [][]float64, srcRate, dstRate int) ([][]float64, error) {
	if srcRate == dstRate {
		return data, nil
	}
	channels := len(data)
	if channels == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrFilter)
	}
	n := len(data[0])
	want := int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: resampler: %v", ErrFilter, err)
	}

	// Interleave channel-major rows into frames.
	interleaved := make([]float64, n*channels)
	for ch, row := range data {
		for s, v := range row {
			interleaved[s*channels+ch] = v
		}
	}

	out, err := rs.Process(interleaved)
	if err != nil {
		return nil, fmt.Errorf("%w: resample: %v", ErrFilter, err)
	}

	// Flush the internal filter delay with silence until the expected
	// frame count is available.
	flush := make([]float64, srcRate/4*channels)
	for len(out)/channels < want {
		more, err := rs.Process(flush)
		if err != nil {
			return nil, fmt.Errorf("%w: resample flush: %v", ErrFilter, err)
		}
		if len(more) == 0 {
			break
		}
		out = append(out, more...)
	}
	if len(out)/channels < want {
		return nil, fmt.Errorf("%w: resampler produced %d frames, want %d", ErrFilter, len(out)/channels, want)
	}

	// De-interleave back to channel-major rows.
	res := make([][]float64, channels)
	for ch := range res {
		row := make([]float64, want)
		for s := 0; s < want; s++ {
			row[s] = out[s*channels+ch]
		}
		res[ch] = row
	}
	return res, nil
}
