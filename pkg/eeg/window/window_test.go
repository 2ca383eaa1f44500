package window

import (
	"errors"
	"math"
	"testing"

	"github.com/neuralock/neuralock/pkg/eeg"
)

func trialOf(channels, samples, rate int) *eeg.ProcessedTrial {
	t := &eeg.ProcessedTrial{SampleRate: rate, Data: make([][]float32, channels)}
	for ch := range t.Data {
		row := make([]float32, samples)
		for s := range row {
			row[s] = float32(ch*samples + s)
		}
		t.Data[ch] = row
	}
	return t
}

func TestSlideCounts(t *testing.T) {
	cfg := DefaultConfig() // W=2s, S=1s
	cases := []struct {
		samples int
		want    int
	}{
		{256, 1},  // exactly W
		{384, 2},  // W + S
		{383, 1},  // one short of the second window
		{1280, 9}, // 10 s trial
	}
	for _, c := range cases {
		wins, err := Slide(trialOf(4, c.samples, 128), cfg)
		if err != nil {
			t.Fatalf("samples=%d: %v", c.samples, err)
		}
		if len(wins) != c.want {
			t.Errorf("samples=%d: windows = %d, want %d", c.samples, len(wins), c.want)
		}
		for _, w := range wins {
			if w.Samples() != 256 || w.Channels() != 4 {
				t.Fatalf("window shape = (%d, %d), want (4, 256)", w.Channels(), w.Samples())
			}
		}
	}
}

func TestSlideTooShort(t *testing.T) {
	_, err := Slide(trialOf(4, 255, 128), DefaultConfig())
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("error = %v, want ErrTooShort", err)
	}
}

func TestSlideContent(t *testing.T) {
	wins, err := Slide(trialOf(2, 384, 128), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	// Second window starts one stride (128 samples) into the trial.
	if got, want := wins[1][0][0], float32(128); got != want {
		t.Errorf("window 1 sample 0 = %v, want %v", got, want)
	}
}

func TestChannelDropoutZeroesWholeChannels(t *testing.T) {
	a := NewAugmenter(AugmentConfig{ChannelDropout: 0.5}, 128, 7)
	w := trialWindow(32, 64)
	a.channelDropout(w)

	dropped := 0
	for _, row := range w {
		zero := true
		for _, v := range row {
			if v != 0 {
				zero = false
				break
			}
		}
		if zero {
			dropped++
		}
	}
	if dropped == 0 || dropped == len(w) {
		t.Errorf("dropped %d/%d channels at p=0.5, want strictly between", dropped, len(w))
	}
	// Surviving channels are untouched.
	for ch, row := range w {
		allZero := true
		for _, v := range row {
			if v != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			continue
		}
		for s, v := range row {
			if want := float32(ch*64 + s + 1); v != want {
				t.Fatalf("channel %d sample %d = %v, want %v", ch, s, v, want)
			}
		}
	}
}

func trialWindow(channels, samples int) Window {
	w := make(Window, channels)
	for ch := range w {
		row := make([]float32, samples)
		for s := range row {
			row[s] = float32(ch*samples + s + 1)
		}
		w[ch] = row
	}
	return w
}

func TestAddNoiseHitsTargetSNR(t *testing.T) {
	// Pin the SNR range to a point so the realized SNR is checkable.
	a := NewAugmenter(AugmentConfig{SNRLowDB: 20, SNRHighDB: 20}, 128, 3)
	w := make(Window, 8)
	for ch := range w {
		row := make([]float32, 4096)
		for s := range row {
			row[s] = float32(math.Sin(float64(s) / 5))
		}
		w[ch] = row
	}
	orig := w.Clone()
	a.addNoise(w)

	var sig, noise float64
	for ch := range w {
		for s := range w[ch] {
			sig += float64(orig[ch][s]) * float64(orig[ch][s])
			d := float64(w[ch][s] - orig[ch][s])
			noise += d * d
		}
	}
	snr := 10 * math.Log10(sig/noise)
	if math.Abs(snr-20) > 1.5 {
		t.Errorf("realized SNR = %.2f dB, want ~20", snr)
	}
}

func TestShiftReflect(t *testing.T) {
	x := []float32{0, 1, 2, 3, 4}
	got := shiftReflect(x, 2)
	want := []float32{2, 1, 0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("right shift = %v, want %v", got, want)
		}
	}
	got = shiftReflect(x, -2)
	want = []float32{2, 3, 4, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("left shift = %v, want %v", got, want)
		}
	}
}

func TestMixIsConvex(t *testing.T) {
	a := NewAugmenter(DefaultAugmentConfig(), 128, 11)
	w1 := trialWindow(4, 32)
	w2 := make(Window, 4)
	for ch := range w2 {
		w2[ch] = make([]float32, 32) // zeros
	}
	for i := 0; i < 20; i++ {
		m := a.Mix(w1, w2)
		for ch := range m {
			for s := range m[ch] {
				lo, hi := float32(0), w1[ch][s]
				if m[ch][s] < lo-1e-4 || m[ch][s] > hi+1e-4 {
					t.Fatalf("mix outside convex hull: %v not in [%v, %v]", m[ch][s], lo, hi)
				}
			}
		}
	}
}

func TestAugmenterDeterministic(t *testing.T) {
	cfg := DefaultAugmentConfig()
	w1 := trialWindow(8, 256)
	w2 := trialWindow(8, 256)
	NewAugmenter(cfg, 128, 99).Apply(w1)
	NewAugmenter(cfg, 128, 99).Apply(w2)
	for ch := range w1 {
		for s := range w1[ch] {
			if w1[ch][s] != w2[ch][s] {
				t.Fatal("same seed produced different augmentations")
			}
		}
	}
}
