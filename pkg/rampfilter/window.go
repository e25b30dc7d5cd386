package rampfilter

import (
	"fmt"
	"math"
	"strings"
)

// Window selects the apodization applied on top of the ramp.
type Window int

const (
	// RamLak is the bare ramp.
	RamLak Window = iota
	// Cosine raises cos(pi*k/m) to the power alpha.
	Cosine
	// Hamming blends a constant and a cosine, alpha 0.54.
	Hamming
	// Hann blends a constant and a cosine, alpha 0.5.
	Hann
	// SheppLogan raises sinc(k/m) to the power alpha.
	SheppLogan
	// Sinc raises sinc(k/m) to the power alpha.
	Sinc
	// SumCos blends a constant and a cosine, alpha 0.5.
	SumCos
)

var windowNames = [...]string{
	RamLak:     "ram-lak",
	Cosine:     "cosine",
	Hamming:    "hamming",
	Hann:       "hann",
	SheppLogan: "shepp-logan",
	Sinc:       "sinc",
	SumCos:     "sumcos",
}

func (w Window) String() string {
	if w < 0 || int(w) >= len(windowNames) {
		return fmt.Sprintf("Window(%d)", int(w))
	}
	return windowNames[w]
}

// Windows lists every window in declaration order.
func Windows() []Window {
	ws := make([]Window, len(windowNames))
	for i := range ws {
		ws[i] = Window(i)
	}
	return ws
}

// ParseWindow maps a window name (case-insensitive) to its Window.
func ParseWindow(name string) (Window, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range windowNames {
		if n == key {
			return Window(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (valid: %s)", ErrInvalidWindow, name, strings.Join(windowNames[:], ", "))
}

// DefaultAlpha returns the alpha used when Options.Alpha is nil.
func (w Window) DefaultAlpha() float64 {
	switch w {
	case RamLak:
		return 0
	case Cosine, SheppLogan, Sinc:
		return 1
	case Hamming:
		return 0.54
	case Hann, SumCos:
		return 0.5
	}
	return 0
}

// weight returns the window value at frequency bin k of an m-point transform.
func (w Window) weight(k, m int, alpha float64) float64 {
	f := float64(k) / float64(m)
	switch w {
	case RamLak:
		return 1
	case Cosine:
		return math.Pow(math.Cos(math.Pi*f), alpha)
	case Hamming, Hann, SumCos:
		return alpha + (1-alpha)*math.Cos(2*math.Pi*f)
	case SheppLogan, Sinc:
		return math.Pow(sinc(f), alpha)
	}
	return 1
}

// sinc is the normalized sinc, sin(pi x)/(pi x).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
