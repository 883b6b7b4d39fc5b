// config_features.go - Limits, Cache und Klassifikations-Einstellungen
//
// Dieses Modul enthaelt:
// - Modell-Pfad fuer serve
// - Request-Limits des HTTP-Servers
// - Ergebnis-Cache
// - Risiko-Schwelle der Klassifikation
package envconfig

// =============================================================================
// Modell
// =============================================================================

var (
	// Model ist der Modell-Pfad, wenn serve ohne Argument gestartet wird
	Model = String("MOLEINFER_MODEL")
)

// =============================================================================
// Server-Limits
// =============================================================================

var (
	// MaxBatch begrenzt die Anzahl Bilder pro Request
	MaxBatch = Uint("MOLEINFER_MAX_BATCH", 32)

	// MaxUpload begrenzt die Groesse eines Multipart-Uploads in Bytes
	MaxUpload = Uint64("MOLEINFER_MAX_UPLOAD", 32<<20)

	// CacheSize ist die Anzahl gecachter Vorhersagen (0 = aus)
	CacheSize = Uint("MOLEINFER_CACHE_SIZE", 256)

	// NoCache deaktiviert den Ergebnis-Cache unabhaengig von CacheSize
	NoCache = Bool("MOLEINFER_NOCACHE")
)

// =============================================================================
// Klassifikation
// =============================================================================

var (
	// Threshold ist die Wahrscheinlichkeit ab der "malignant" markiert wird
	Threshold = Float("MOLEINFER_THRESHOLD", 0.8)
)
