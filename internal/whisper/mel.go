package whisper

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/Cabrel10/AetherionOS/internal/tensor"
)

// Feature extraction constants. The model consumes 16 kHz mono audio analysed with
// 25 ms windows every 10 ms.
const (
	SampleRate = 16000
	fftSize    = 400
	hopLength  = 160

	// MinSamples is the shortest input that yields at least one analysis window
	MinSamples = fftSize
)

// melFilterBank builds triangular filters on the HTK mel scale over [0, sampleRate/2],
// returned as [numMels][fftSize/2+1]. Filter edges sit on continuous frequencies
// rather than rounded FFT bins so narrow low-frequency filters stay non-empty, and
// each filter is area-normalised.
func melFilterBank(numMels, nfft, sampleRate int) [][]float64 {
	bins := nfft/2 + 1
	highMel := hzToMel(float64(sampleRate) / 2)

	edges := make([]float64, numMels+2)
	for i := range edges {
		edges[i] = melToHz(highMel * float64(i) / float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		norm := 2 / (right - left)
		filter := make([]float64, bins)
		for k := 0; k < bins; k++ {
			hz := float64(k) * float64(sampleRate) / float64(nfft)
			var w float64
			switch {
			case hz > left && hz <= center:
				w = (hz - left) / (center - left)
			case hz > center && hz < right:
				w = (right - hz) / (right - center)
			}
			filter[k] = w * norm
		}
		bank[m] = filter
	}
	return bank
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// hannWindow returns a periodic Hann window of length n
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// featureExtractor holds the read-only analysis tables shared by all calls
type featureExtractor struct {
	melBins int
	window  []float64
	bank    [][]float64
}

func newFeatureExtractor(melBins int) *featureExtractor {
	return &featureExtractor{
		melBins: melBins,
		window:  hannWindow(fftSize),
		bank:    melFilterBank(melBins, fftSize, SampleRate),
	}
}

// frameCount returns the number of feature frames produced for n samples
func frameCount(n int) int {
	return n / hopLength
}

// logMel computes normalised log-mel features [frames, melBins] for PCM samples.
// The signal is reflect-padded by half a window on both sides, at most maxFrames
// frames are produced, and values are clamped to 8 decades below the peak before
// being scaled to roughly [-1, 1].
func (fe *featureExtractor) logMel(samples []int16, maxFrames int) (*tensor.Tensor, error) {
	if len(samples) < MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need at least %d", ErrAudioTooShort, len(samples), MinSamples)
	}

	frames := frameCount(len(samples))
	if frames > maxFrames {
		frames = maxFrames
	}

	pad := fftSize / 2
	signal := make([]float64, len(samples)+2*pad)
	for i, s := range samples {
		signal[pad+i] = float64(s) / 32768.0
	}
	for i := 0; i < pad; i++ {
		signal[pad-1-i] = signal[pad+1+i]
		signal[pad+len(samples)+i] = signal[pad+len(samples)-2-i]
	}

	fft := fourier.NewFFT(fftSize)
	frame := make([]float64, fftSize)
	coeffs := make([]complex128, fftSize/2+1)
	power := make([]float64, fftSize/2+1)

	out := tensor.Zeros(frames, fe.melBins)
	data := out.Data()
	maxVal := math.Inf(-1)
	for t := 0; t < frames; t++ {
		start := t * hopLength
		for i := range frame {
			frame[i] = signal[start+i] * fe.window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		for m, filter := range fe.bank {
			var energy float64
			for k, w := range filter {
				if w != 0 {
					energy += w * power[k]
				}
			}
			v := math.Log10(math.Max(energy, 1e-10))
			if v > maxVal {
				maxVal = v
			}
			data[t*fe.melBins+m] = float32(v)
		}
	}

	floor := float32(maxVal - 8)
	for i, v := range data {
		if v < floor {
			v = floor
		}
		data[i] = (v + 4) / 4
	}
	return out, nil
}
