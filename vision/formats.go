// MODUL: formats
// ZWECK: Bildformat-Erkennung anhand der Magic-Bytes
// INPUT: Bild-Bytes
// OUTPUT: ImageFormat, Fehler bei unbekanntem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine
// HINWEISE: JPEG, PNG und WebP, andere Formate werden vor dem Dekodieren abgewiesen

package vision

import (
	"bytes"
	"errors"
	"fmt"
)

// ImageFormat ist ein unterstuetztes Eingabeformat
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatWebP    ImageFormat = "webp"
	FormatUnknown ImageFormat = "unknown"
)

var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	magicRIFF = []byte("RIFF")
	magicWebP = []byte("WEBP")
)

// ErrUnknownFormat wird zurueckgegeben wenn das Format nicht erkannt wurde
var ErrUnknownFormat = errors.New("unknown image format")

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) ImageFormat {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWebP):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// ValidateFormat prueft die Magic-Bytes und gibt das erkannte Format zurueck
func ValidateFormat(data []byte) (ImageFormat, error) {
	f := DetectFormat(data)
	if f == FormatUnknown {
		n := min(len(data), 4)
		return f, fmt.Errorf("%w (header % x)", ErrUnknownFormat, data[:n])
	}
	return f, nil
}

// MimeType gibt den MIME-Type fuer ein Format zurueck
func (f ImageFormat) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func (f ImageFormat) String() string {
	return string(f)
}
