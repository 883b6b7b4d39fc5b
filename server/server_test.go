package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/moleinfer/moleinfer/classify"
	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/model/modeltest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, spec *model.Spec) (*Server, *engine.Engine) {
	t.Helper()
	t.Setenv("MOLEINFER_MAX_BATCH", "4")
	t.Setenv("MOLEINFER_CACHE_SIZE", "16")

	e := engine.New(engine.WithThreads(2))
	if spec != nil {
		require.NoError(t, e.Use(modeltest.Compile(t, *spec)))
	}

	s, err := New(e, classify.New(e))
	require.NoError(t, err)
	return s, e
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.GenerateRoutes().ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(t, s, req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	require.Equal(t, code, decode[APIError](t, w).Code)
}

func splitImages(m *model.Model, count int, seed float64) [][]float32 {
	flat := modeltest.Images(m, count, seed)
	size := m.InputSize()
	out := make([][]float32, count)
	for i := range out {
		out[i] = flat[i*size : (i+1)*size]
	}
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decode[HealthResponse](t, w).ModelLoaded)

	spec := modeltest.TinyCNN()
	s, _ = newTestServer(t, &spec)
	w = do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	resp := decode[HealthResponse](t, w)
	require.True(t, resp.ModelLoaded)
	require.Equal(t, "tiny-cnn", resp.Model)
}

func TestModel(t *testing.T) {
	s, _ := newTestServer(t, nil)
	requireError(t, do(t, s, httptest.NewRequest(http.MethodGet, "/api/model", nil)), http.StatusServiceUnavailable, "MODEL_NOT_LOADED")

	spec := modeltest.TinyCNN()
	s, e := newTestServer(t, &spec)
	w := do(t, s, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[ModelResponse](t, w)
	m := e.Model()
	require.Equal(t, m.InputShape(), resp.InputShape)
	require.Equal(t, 2, resp.Classes)
	require.Equal(t, []string{"benign", "malignant"}, resp.Labels)
	require.Len(t, resp.Layers, m.NumLayers())
	require.Equal(t, "conv2d", resp.Layers[0].Op)
	require.Equal(t, m.ParameterCount(), resp.Parameters)
}

func TestPredict(t *testing.T) {
	spec := modeltest.TinyCNN()
	s, e := newTestServer(t, &spec)
	images := splitImages(e.Model(), 3, 0.5)

	w := postJSON(t, s, "/api/predict", PredictRequest{Images: images})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[PredictResponse](t, w)
	require.Len(t, first.Predictions, 3)
	require.Zero(t, first.Cached)

	want, err := e.Predict(t.Context(), modeltest.Images(e.Model(), 3, 0.5), 3)
	require.NoError(t, err)
	require.Equal(t, want, first.Predictions)

	// identische Eingaben kommen aus dem Cache
	w = postJSON(t, s, "/api/predict", PredictRequest{Images: images[:2]})
	second := decode[PredictResponse](t, w)
	require.Equal(t, 2, second.Cached)
	require.Equal(t, first.Predictions[:2], second.Predictions)
}

func TestPredictErrors(t *testing.T) {
	spec := modeltest.TinyCNN()
	s, e := newTestServer(t, &spec)
	size := e.Model().InputSize()

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"falsche Bildgroesse", PredictRequest{Images: [][]float32{make([]float32, size-1)}}, http.StatusBadRequest, "INVALID_INPUT"},
		{"keine Bilder", PredictRequest{Images: [][]float32{}}, http.StatusBadRequest, "NO_IMAGES"},
		{"zu viele Bilder", PredictRequest{Images: make([][]float32, 5)}, http.StatusRequestEntityTooLarge, "BATCH_TOO_LARGE"},
		{"kein JSON-Objekt", []int{1, 2}, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, postJSON(t, s, "/api/predict", tt.body), tt.status, tt.code)
		})
	}

	unloaded, _ := newTestServer(t, nil)
	requireError(t, postJSON(t, unloaded, "/api/predict", PredictRequest{Images: [][]float32{{1}}}), http.StatusServiceUnavailable, "MODEL_NOT_LOADED")
}

func TestCachePurgedOnModelChange(t *testing.T) {
	spec := modeltest.Vector()
	s, e := newTestServer(t, &spec)
	images := splitImages(e.Model(), 2, 1)

	postJSON(t, s, "/api/predict", PredictRequest{Images: images})
	require.Equal(t, 2, s.cache.len())

	require.NoError(t, e.Use(modeltest.Compile(t, modeltest.Vector())))
	w := postJSON(t, s, "/api/predict", PredictRequest{Images: images})
	require.Zero(t, decode[PredictResponse](t, w).Cached)
	require.Equal(t, 2, s.cache.len())
}

func TestCacheKeyFollowsSnapshot(t *testing.T) {
	spec := modeltest.Vector()
	s, e := newTestServer(t, &spec)
	old := e.Model()
	images := splitImages(old, 1, 3)

	snap, err := e.Snapshot()
	require.NoError(t, err)
	next := modeltest.Compile(t, modeltest.Vector())
	require.NoError(t, e.Use(next))

	scores, cached, err := s.predict(t.Context(), snap, images)
	require.NoError(t, err)
	require.Zero(t, cached)

	_, ok := s.cache.get(key(old, images[0]))
	require.True(t, ok, "Ergebnis muss unter dem Modell des Snapshots liegen")
	_, ok = s.cache.get(key(next, images[0]))
	require.False(t, ok)

	want, err := snap.Predict(t.Context(), images[0], 1)
	require.NoError(t, err)
	require.Equal(t, want[0], scores[0])
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 10))
	for y := range 10 {
		for x := range 12 {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("image", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/classify", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestClassify(t *testing.T) {
	spec := modeltest.TinyCNN()
	s, _ := newTestServer(t, &spec)

	req := multipartRequest(t, map[string][]byte{
		"a.png": pngBytes(t, color.NRGBA{200, 120, 90, 255}),
		"b.png": pngBytes(t, color.NRGBA{60, 40, 30, 255}),
	})
	w := do(t, s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Model     string  `json:"model"`
		Threshold float32 `json:"threshold"`
		Results   []struct {
			Filename      string             `json:"filename"`
			Label         string             `json:"label"`
			Probabilities map[string]float32 `json:"probabilities"`
			Risky         bool               `json:"risky"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "tiny-cnn", resp.Model)
	require.InDelta(t, classify.DefaultThreshold, resp.Threshold, 1e-6)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		require.Contains(t, []string{"a.png", "b.png"}, r.Filename)
		require.Contains(t, []string{"benign", "malignant"}, r.Label)
		require.Len(t, r.Probabilities, 2)
	}
}

func TestClassifyErrors(t *testing.T) {
	spec := modeltest.TinyCNN()
	s, _ := newTestServer(t, &spec)

	requireError(t, do(t, s, multipartRequest(t, map[string][]byte{"x.gif": []byte("GIF89a....")})), http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT")
	requireError(t, do(t, s, multipartRequest(t, nil)), http.StatusBadRequest, "NO_IMAGES")

	vector := modeltest.Vector()
	s, _ = newTestServer(t, &vector)
	requireError(t, do(t, s, multipartRequest(t, map[string][]byte{"a.png": pngBytes(t, color.White)})), http.StatusConflict, "MODEL_NOT_IMAGE")
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Len(t, w.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "0b9c7c1e-4d2a-4b7e-9d0f-6f1f0c2b1a3e")
	w = do(t, s, req)
	require.Equal(t, "0b9c7c1e-4d2a-4b7e-9d0f-6f1f0c2b1a3e", w.Header().Get(requestIDHeader))
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	requireError(t, do(t, s, httptest.NewRequest(http.MethodGet, "/api/tags", nil)), http.StatusNotFound, "NOT_FOUND")
	requireError(t, do(t, s, httptest.NewRequest(http.MethodDelete, "/api/model", nil)), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}
