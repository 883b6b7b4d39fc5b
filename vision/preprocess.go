// MODUL: preprocess
// ZWECK: Wandelt Bilder in den Eingabepuffer eines Modells um
// INPUT: Bild-Bytes oder dekodierte Bilder, Eingabe-Shape [C,H,W] des Modells
// OUTPUT: float32-Puffer, Bilder hintereinander im CHW Layout
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: golang.org/x/sync/errgroup
// HINWEISE: Reihenfolge je Bild: Composite, CenterCrop, Resize, Normalisierung

package vision

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"
)

// ErrInputShape wird zurueckgegeben wenn das Modell keine Bildeingabe hat
var ErrInputShape = errors.New("model input is not an image")

// ImageError nennt das fehlerhafte Bild eines Batch
type ImageError struct {
	Index int
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %d: %v", e.Index, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// Preprocessor bereitet Bilder fuer ein Modell mit Eingabe [C,H,W] vor
type Preprocessor struct {
	channels, height, width int
	opts                    preprocessOptions
}

// NewPreprocessor erstellt einen Preprocessor fuer die Eingabe-Shape eines Modells.
// C muss 1 (Graustufen) oder 3 (RGB) sein.
func NewPreprocessor(inputShape []int, opts ...PreprocessOption) (*Preprocessor, error) {
	if len(inputShape) != 3 || (inputShape[0] != 1 && inputShape[0] != 3) || inputShape[1] <= 0 || inputShape[2] <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInputShape, inputShape)
	}

	o := defaultPreprocessOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Preprocessor{
		channels: inputShape[0],
		height:   inputShape[1],
		width:    inputShape[2],
		opts:     o,
	}, nil
}

// Size gibt die Anzahl Werte pro Bild zurueck
func (p *Preprocessor) Size() int {
	return p.channels * p.height * p.width
}

// Image schreibt ein dekodiertes Bild in dst (Laenge Size)
func (p *Preprocessor) Image(dst []float32, img image.Image) error {
	if len(dst) != p.Size() {
		return fmt.Errorf("buffer has %d values, expected %d", len(dst), p.Size())
	}

	flat := Composite(img, p.opts.background)
	if p.opts.crop > 0 {
		flat = CenterCrop(flat, p.opts.crop)
	}

	resized, err := Resize(flat, p.width, p.height)
	if err != nil {
		return err
	}

	NormalizeCHW(dst, resized, p.channels, p.opts.normalization)
	return nil
}

// Bytes dekodiert ein Bild und gibt seinen Eingabepuffer zurueck
func (p *Preprocessor) Bytes(data []byte) ([]float32, error) {
	img, err := DecodeBytes(data)
	if err != nil {
		return nil, err
	}

	out := make([]float32, p.Size())
	if err := p.Image(out, img); err != nil {
		return nil, err
	}
	return out, nil
}

// Batch dekodiert mehrere Bilder parallel und haengt ihre Puffer in Eingabereihenfolge aneinander.
// Fehler sind vom Typ *ImageError.
func (p *Preprocessor) Batch(images [][]byte) ([]float32, error) {
	size := p.Size()
	out := make([]float32, len(images)*size)

	var g errgroup.Group
	g.SetLimit(p.opts.threads)
	for i, data := range images {
		g.Go(func() error {
			img, err := DecodeBytes(data)
			if err != nil {
				return &ImageError{Index: i, Err: err}
			}
			if err := p.Image(out[i*size:(i+1)*size], img); err != nil {
				return &ImageError{Index: i, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
