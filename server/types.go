// types.go - Request- und Response-Typen der API

package server

import "github.com/moleinfer/moleinfer/classify"

// HealthResponse ist die Antwort von GET /api/health
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Model       string `json:"model,omitempty"`
	Passes      uint64 `json:"passes"`
	Images      uint64 `json:"images"`
	Cached      int    `json:"cached"`
}

// LayerInfo beschreibt einen Layer in GET /api/model
type LayerInfo struct {
	Index      int    `json:"index"`
	Op         string `json:"op"`
	Name       string `json:"name,omitempty"`
	Input      []int  `json:"input"`
	Output     []int  `json:"output"`
	Parameters uint64 `json:"parameters"`
}

// ModelResponse ist die Antwort von GET /api/model
type ModelResponse struct {
	Name       string      `json:"name"`
	Format     string      `json:"format"`
	FileSize   int64       `json:"file_size"`
	InputShape []int       `json:"input_shape"`
	Classes    int         `json:"classes"`
	Labels     []string    `json:"labels"`
	Parameters uint64      `json:"parameters"`
	Layers     []LayerInfo `json:"layers"`
}

// PredictRequest enthaelt die flachen Eingabepuffer, einer pro Bild
type PredictRequest struct {
	Images [][]float32 `json:"images" binding:"required"`
}

// PredictResponse enthaelt je Bild einen Ergebnisvektor
type PredictResponse struct {
	Model       string      `json:"model"`
	Predictions [][]float32 `json:"predictions"`
	Cached      int         `json:"cached"`
}

// ClassifyResult ist das Ergebnis fuer eine hochgeladene Datei
type ClassifyResult struct {
	Filename string `json:"filename"`
	classify.Result
}

// ClassifyResponse ist die Antwort von POST /api/classify
type ClassifyResponse struct {
	Model     string           `json:"model"`
	Threshold float32          `json:"threshold"`
	Results   []ClassifyResult `json:"results"`
	Cached    int              `json:"cached"`
}
