// MODUL: options
// ZWECK: Functional Options fuer den Preprocessor
// INPUT: Optionale Parameter (Crop, Normalisierung, Hintergrund, Threads)
// OUTPUT: preprocessOptions
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: image/color
// HINWEISE: Ungueltige Werte werden ignoriert, es gelten die Defaults

package vision

import (
	"image/color"
	"runtime"
)

type preprocessOptions struct {
	crop          float64
	normalization Normalization
	background    color.Color
	threads       int
}

func defaultPreprocessOptions() preprocessOptions {
	return preprocessOptions{
		crop:          0,
		normalization: ImageNet,
		background:    color.Black,
		threads:       runtime.NumCPU(),
	}
}

// PreprocessOption konfiguriert einen Preprocessor
type PreprocessOption func(*preprocessOptions)

// WithCenterCrop schneidet vor dem Skalieren den Anteil fraction der kuerzeren Seite aus.
// 1 nimmt das groesste zentrierte Quadrat. Werte ausserhalb (0,1] werden ignoriert,
// ohne Option wird das ganze Bild skaliert.
func WithCenterCrop(fraction float64) PreprocessOption {
	return func(o *preprocessOptions) {
		if fraction > 0 && fraction <= 1 {
			o.crop = fraction
		}
	}
}

// WithNormalization setzt mean/std. Standardabweichungen <= 0 werden ignoriert.
func WithNormalization(n Normalization) PreprocessOption {
	return func(o *preprocessOptions) {
		for _, s := range n.Std {
			if s <= 0 {
				return
			}
		}
		o.normalization = n
	}
}

// WithBackground setzt die Farbe, auf die transparente Bilder gelegt werden (Default schwarz)
func WithBackground(c color.Color) PreprocessOption {
	return func(o *preprocessOptions) {
		if c != nil {
			o.background = c
		}
	}
}

// WithThreads begrenzt die Anzahl parallel dekodierter Bilder in Batch
func WithThreads(n int) PreprocessOption {
	return func(o *preprocessOptions) {
		if n > 0 {
			o.threads = n
		}
	}
}
