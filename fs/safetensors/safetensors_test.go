package safetensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteOpen(t *testing.T) {
	var buf bytes.Buffer
	tensors := []Tensor{
		{Name: "b", DType: "F32", Shape: []int{2}, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{Name: "a", DType: "F16", Shape: []int{1, 3}, Data: []byte{9, 10, 11, 12, 13, 14}},
	}
	if err := Write(&buf, map[string]string{"format": "test"}, tensors); err != nil {
		t.Fatal(err)
	}

	if n := binary.LittleEndian.Uint64(buf.Bytes()); n%8 != 0 {
		t.Errorf("Header-Laenge %d nicht auf 8 Bytes ausgerichtet", n)
	}
	if !Detect(buf.Bytes()[:16]) {
		t.Error("Detect erkennt eigene Datei nicht")
	}

	f, err := Open(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]string{"format": "test"}, f.Metadata); diff != "" {
		t.Errorf("Metadata (-want +got):\n%s", diff)
	}

	// Sortiert nach Offset, nicht nach Name
	var names []string
	for _, ti := range f.Tensors {
		names = append(names, ti.Name)
	}
	if diff := cmp.Diff([]string{"b", "a"}, names); diff != "" {
		t.Errorf("Reihenfolge (-want +got):\n%s", diff)
	}

	for _, want := range tensors {
		ti, ok := f.Lookup(want.Name)
		if !ok {
			t.Fatalf("Tensor %s fehlt", want.Name)
		}
		if diff := cmp.Diff(want.Shape, ti.Shape); diff != "" {
			t.Errorf("%s Shape (-want +got):\n%s", want.Name, diff)
		}
		got, err := f.ReadTensor(ti)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want.Data, got); diff != "" {
			t.Errorf("%s Daten (-want +got):\n%s", want.Name, diff)
		}
	}
}

func header(t *testing.T, json string, data int) []byte {
	t.Helper()
	b := binary.LittleEndian.AppendUint64(nil, uint64(len(json)))
	b = append(b, json...)
	return append(b, make([]byte, data)...)
}

func TestOpenErrors(t *testing.T) {
	cases := []struct {
		name string
		file []byte
		want error
	}{
		{"short", []byte{1, 2, 3}, ErrInvalidHeader},
		{"length beyond file", binary.LittleEndian.AppendUint64(nil, 1<<20), ErrInvalidHeader},
		{"not json", header(t, "{nope", 0), ErrInvalidHeader},
		{"unknown dtype", header(t, `{"w":{"dtype":"Q4","shape":[1],"data_offsets":[0,1]}}`, 1), ErrInvalidHeader},
		{"size mismatch", header(t, `{"w":{"dtype":"F32","shape":[2],"data_offsets":[0,4]}}`, 8), ErrInvalidOffsets},
		{"gap", header(t, `{"w":{"dtype":"F32","shape":[1],"data_offsets":[4,8]}}`, 8), ErrInvalidOffsets},
		{"beyond data", header(t, `{"w":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`, 8), ErrInvalidOffsets},
		{"bad metadata", header(t, `{"__metadata__":{"x":1}}`, 0), ErrInvalidHeader},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(bytes.NewReader(tt.file), int64(len(tt.file)))
			if !errors.Is(err, tt.want) {
				t.Errorf("Fehler = %v, erwartet %v", err, tt.want)
			}
		})
	}
}
