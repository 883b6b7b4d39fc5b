// MODUL: normalize
// ZWECK: Normalisierung von Bildern in CHW float32-Puffer
// INPUT: *image.NRGBA, Normalization (mean, std)
// OUTPUT: float32-Werte im CHW Layout
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine
// HINWEISE: RGB fuer 3 Kanaele, Luminanz fuer 1 Kanal

package vision

import (
	"fmt"
	"image"
	"maps"
	"slices"
	"strings"
)

// Normalization beschreibt mean/std je Kanal auf Werten in [0,1]
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var (
	// ImageNet ist die Normalisierung der ueblichen torchvision-Modelle (Default)
	ImageNet = Normalization{
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}

	// Symmetric bildet [0,1] auf [-1,1] ab
	Symmetric = Normalization{
		Mean: [3]float32{0.5, 0.5, 0.5},
		Std:  [3]float32{0.5, 0.5, 0.5},
	}

	// Unit skaliert nur auf [0,1]
	Unit = Normalization{
		Mean: [3]float32{0, 0, 0},
		Std:  [3]float32{1, 1, 1},
	}
)

var normalizations = map[string]Normalization{
	"imagenet":  ImageNet,
	"symmetric": Symmetric,
	"unit":      Unit,
}

// ParseNormalization gibt die Normalisierung zum Namen zurueck (imagenet, symmetric, unit)
func ParseNormalization(name string) (Normalization, error) {
	if n, ok := normalizations[strings.ToLower(name)]; ok {
		return n, nil
	}
	return Normalization{}, fmt.Errorf("unknown normalization %q, expected one of %s",
		name, strings.Join(slices.Sorted(maps.Keys(normalizations)), ", "))
}

// NormalizeCHW schreibt img in dst, Layout [channels, H, W].
// dst muss channels*H*W Werte haben, channels ist 1 oder 3.
func NormalizeCHW(dst []float32, img *image.NRGBA, channels int, n Normalization) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	plane := h * w

	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := range w {
			px := row[4*x : 4*x+4]
			r := float32(px[0]) / 255
			g := float32(px[1]) / 255
			bl := float32(px[2]) / 255

			i := y*w + x
			if channels == 1 {
				// ITU-R 601 Luma
				l := 0.299*r + 0.587*g + 0.114*bl
				dst[i] = (l - n.Mean[0]) / n.Std[0]
				continue
			}
			dst[i] = (r - n.Mean[0]) / n.Std[0]
			dst[plane+i] = (g - n.Mean[1]) / n.Std[1]
			dst[2*plane+i] = (bl - n.Mean[2]) / n.Std[2]
		}
	}
}
