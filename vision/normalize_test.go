package vision

import (
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNormalizeCHW(t *testing.T) {
	img := solid(2, 1, color.NRGBA{255, 0, 0, 255})
	img.Set(1, 0, color.NRGBA{0, 255, 51, 255})

	dst := make([]float32, 6)
	NormalizeCHW(dst, img, 3, Unit)

	// R-Ebene, G-Ebene, B-Ebene
	want := []float32{1, 0, 0, 1, 0, 0.2}
	if diff := cmp.Diff(want, dst, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("NormalizeCHW (-want +got):\n%s", diff)
	}
}

func TestNormalizeImageNet(t *testing.T) {
	img := solid(1, 1, color.White)
	dst := make([]float32, 3)
	NormalizeCHW(dst, img, 3, ImageNet)

	for c := range 3 {
		want := (1 - ImageNet.Mean[c]) / ImageNet.Std[c]
		if math.Abs(float64(dst[c]-want)) > 1e-6 {
			t.Errorf("Kanal %d = %f, erwartet %f", c, dst[c], want)
		}
	}
}

func TestNormalizeGray(t *testing.T) {
	img := solid(2, 2, color.White)
	dst := make([]float32, 4)
	NormalizeCHW(dst, img, 1, Symmetric)

	for i, v := range dst {
		if math.Abs(float64(v-1)) > 1e-5 {
			t.Errorf("Wert %d = %f, erwartet 1", i, v)
		}
	}
}

func TestParseNormalization(t *testing.T) {
	for name, want := range map[string]Normalization{"imagenet": ImageNet, "Symmetric": Symmetric, "UNIT": Unit} {
		got, err := ParseNormalization(name)
		if err != nil {
			t.Fatalf("ParseNormalization(%s) error = %v", name, err)
		}
		if got != want {
			t.Errorf("ParseNormalization(%s) = %v, erwartet %v", name, got, want)
		}
	}

	if _, err := ParseNormalization("clip"); err == nil {
		t.Error("Erwartet Fehler bei clip")
	}
}
