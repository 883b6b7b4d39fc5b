// MODUL: image
// ZWECK: Dekodieren, Ausrichten, Freistellen und Skalieren von Eingabebildern
// INPUT: Bild-Bytes
// OUTPUT: *image.NRGBA
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: github.com/disintegration/imaging, golang.org/x/image/draw
// HINWEISE: EXIF-Orientierung wird beim Dekodieren angewendet, WebP ueber x/image/webp

package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeBytes prueft das Format und dekodiert das Bild mit EXIF-Orientierung
func DecodeBytes(data []byte) (*image.NRGBA, error) {
	format, err := ValidateFormat(data)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("decode %s: empty image", format)
	}
	return imaging.Clone(img), nil
}

// Composite legt das Bild auf einen einfarbigen Hintergrund und entfernt so den Alpha-Kanal
func Composite(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	dst := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(dst, img, image.Point{}, 1.0)
}

// Resize skaliert bilinear auf width x height
func Resize(img image.Image, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// CenterCrop schneidet den zentrierten Bereich mit dem Anteil fraction der kuerzeren Seite aus.
// Das Ergebnis ist quadratisch. fraction >= 1 gibt das groesste zentrierte Quadrat zurueck.
func CenterCrop(img image.Image, fraction float64) *image.NRGBA {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if fraction > 0 && fraction < 1 {
		side = max(int(float64(side)*fraction+0.5), 1)
	}
	return imaging.CropCenter(img, side, side)
}
