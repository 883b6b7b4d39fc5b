// MODUL: errors
// ZWECK: Fehler-Definitionen und Fehler-Responses der API
// INPUT: Fehler aus Engine, Modell, Vision und Classify
// OUTPUT: JSON {code, message} mit passendem HTTP-Status
// NEBENEFFEKTE: HTTP-Responses schreiben
// ABHAENGIGKEITEN: gin-gonic/gin
// HINWEISE: Die erste passende Zuordnung in apiErrors gewinnt

package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moleinfer/moleinfer/classify"
	"github.com/moleinfer/moleinfer/engine"
	"github.com/moleinfer/moleinfer/model"
	"github.com/moleinfer/moleinfer/vision"
)

var (
	errNotFound         = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errBatchTooLarge    = errors.New("batch size exceeds limit")
	errNoImages         = errors.New("request contains no images")
	errUploadTooLarge   = errors.New("upload exceeds limit")
)

// APIError ist der Body aller Fehler-Responses
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e APIError) Error() string {
	return e.Message
}

type apiError struct {
	err    error
	code   string
	status int
}

var apiErrors = []apiError{
	{engine.ErrNotLoaded, "MODEL_NOT_LOADED", http.StatusServiceUnavailable},
	{engine.ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{engine.ErrExecutionFailure, "EXECUTION_FAILURE", http.StatusInternalServerError},
	{model.ErrNotFound, "MODEL_NOT_FOUND", http.StatusNotFound},
	{model.ErrCorruptFormat, "CORRUPT_MODEL", http.StatusUnprocessableEntity},
	{model.ErrUnsupportedOperator, "UNSUPPORTED_OPERATOR", http.StatusUnprocessableEntity},
	{model.ErrShapeMismatch, "SHAPE_MISMATCH", http.StatusUnprocessableEntity},
	{vision.ErrUnknownFormat, "UNSUPPORTED_FORMAT", http.StatusUnsupportedMediaType},
	{vision.ErrInputShape, "MODEL_NOT_IMAGE", http.StatusConflict},
	{classify.ErrEmptyPrediction, "EMPTY_PREDICTION", http.StatusInternalServerError},
	{classify.ErrPredictionCount, "PREDICTION_COUNT", http.StatusInternalServerError},
	{classify.ErrClassCount, "CLASS_COUNT", http.StatusInternalServerError},
	{errBatchTooLarge, "BATCH_TOO_LARGE", http.StatusRequestEntityTooLarge},
	{errUploadTooLarge, "UPLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge},
	{errNoImages, "NO_IMAGES", http.StatusBadRequest},
	{errNotFound, "NOT_FOUND", http.StatusNotFound},
	{errMethodNotAllowed, "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed},
	{context.Canceled, "CANCELED", 499},
	{context.DeadlineExceeded, "TIMEOUT", http.StatusGatewayTimeout},
}

// lookupError gibt Code und Status fuer err zurueck
func lookupError(err error) (string, int) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, http.StatusBadRequest
	}

	for _, e := range apiErrors {
		if errors.Is(err, e.err) {
			return e.code, e.status
		}
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}

// writeError bricht die Anfrage mit einer {code, message} Response ab
func writeError(c *gin.Context, err error) {
	code, status := lookupError(err)
	c.AbortWithStatusJSON(status, APIError{Code: code, Message: err.Error()})
}

// badRequest erzeugt einen Fehler mit eigenem Code fuer Validierungsfehler
func badRequest(code, message string) APIError {
	return APIError{Code: code, Message: message}
}
