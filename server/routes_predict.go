// routes_predict.go - Handler fuer Health, Modell-Info, Predict und Classify

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/vision"
)

// HealthHandler meldet den Zustand des Servers
func (s *Server) HealthHandler(c *gin.Context) {
	stats := s.engine.Stats()
	resp := HealthResponse{
		Status: "ok",
		Passes: stats.Passes,
		Images: stats.Images,
		Cached: s.cache.len(),
	}
	if m := s.engine.Model(); m != nil {
		resp.ModelLoaded = true
		resp.Model = m.Name()
	}
	c.JSON(http.StatusOK, resp)
}

// ModelHandler beschreibt das geladene Modell
func (s *Server) ModelHandler(c *gin.Context) {
	m := s.engine.Model()
	if m == nil {
		writeError(c, engine.ErrNotLoaded)
		return
	}

	resp := ModelResponse{
		Name:       m.Name(),
		Format:     m.Format(),
		FileSize:   m.FileSize(),
		InputShape: m.InputShape(),
		Classes:    m.NumClasses(),
		Labels:     s.classifier.Labels(),
		Parameters: m.ParameterCount(),
	}
	for i, l := range m.Layers() {
		resp.Layers = append(resp.Layers, LayerInfo{
			Index:      i,
			Op:         l.Op.String(),
			Name:       l.Name,
			Input:      l.InShape,
			Output:     l.OutShape,
			Parameters: l.ParameterCount(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// PredictHandler berechnet Rohwerte fuer bereits vorverarbeitete Eingabepuffer
func (s *Server) PredictHandler(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("INVALID_REQUEST", err.Error()))
		return
	}
	if len(req.Images) == 0 {
		writeError(c, errNoImages)
		return
	}
	if len(req.Images) > s.maxBatch {
		writeError(c, fmt.Errorf("%w: %d > %d", errBatchTooLarge, len(req.Images), s.maxBatch))
		return
	}

	snap, err := s.engine.Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}

	scores, cached, err := s.predict(c.Request.Context(), snap, req.Images)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, PredictResponse{Model: snap.Model().Name(), Predictions: scores, Cached: cached})
}

// ClassifyHandler nimmt Bilder als Multipart-Feld "image" entgegen und klassifiziert sie
func (s *Server) ClassifyHandler(c *gin.Context) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	m := snap.Model()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, fmt.Errorf("%w: %d bytes", errUploadTooLarge, s.maxUpload))
			return
		}
		writeError(c, badRequest("INVALID_REQUEST", err.Error()))
		return
	}

	files := form.File["image"]
	if len(files) == 0 {
		writeError(c, errNoImages)
		return
	}
	if len(files) > s.maxBatch {
		writeError(c, fmt.Errorf("%w: %d > %d", errBatchTooLarge, len(files), s.maxBatch))
		return
	}

	data := make([][]byte, len(files))
	for i, fh := range files {
		if data[i], err = readFile(fh); err != nil {
			writeError(c, badRequest("INVALID_REQUEST", err.Error()))
			return
		}
	}

	pre, err := vision.NewPreprocessor(m.InputShape())
	if err != nil {
		writeError(c, err)
		return
	}
	buf, err := pre.Batch(data)
	if err != nil {
		var imgErr *vision.ImageError
		if errors.As(err, &imgErr) {
			err = fmt.Errorf("%s: %w", files[imgErr.Index].Filename, imgErr.Err)
		}
		writeError(c, err)
		return
	}

	images := make([][]float32, len(files))
	for i := range images {
		images[i] = buf[i*pre.Size() : (i+1)*pre.Size()]
	}

	scores, cached, err := s.predict(c.Request.Context(), snap, images)
	if err != nil {
		writeError(c, err)
		return
	}

	results, err := s.classifier.Interpret(scores)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ClassifyResponse{Model: m.Name(), Threshold: s.classifier.Threshold(), Cached: cached}
	for i, r := range results {
		resp.Results = append(resp.Results, ClassifyResult{Filename: files[i].Filename, Result: r})
	}
	c.JSON(http.StatusOK, resp)
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// predict berechnet die Ergebnisse fuer images auf snap und nutzt dabei den Cache.
// Gibt zusaetzlich die Anzahl Cache-Treffer zurueck.
func (s *Server) predict(ctx context.Context, snap *engine.Snapshot, images [][]float32) ([][]float32, int, error) {
	m := snap.Model()
	if prev := s.current.Swap(m); prev != nil && prev != m {
		s.cache.purge()
	}

	size := m.InputSize()
	results := make([][]float32, len(images))
	var missing []int
	var batch []float32
	for i, img := range images {
		if len(img) != size {
			return nil, 0, fmt.Errorf("%w: image %d has %d values, expected %d", engine.ErrInvalidInput, i, len(img), size)
		}
		if v, ok := s.cache.get(key(m, img)); ok {
			results[i] = v
			continue
		}
		missing = append(missing, i)
		batch = append(batch, img...)
	}

	if len(missing) > 0 {
		out, err := snap.Predict(ctx, batch, len(missing))
		if err != nil {
			return nil, 0, err
		}
		for j, i := range missing {
			results[i] = out[j]
			s.cache.add(key(m, images[i]), out[j])
		}
	}

	return results, len(images) - len(missing), nil
}
