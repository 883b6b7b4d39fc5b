// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: truncate, formatShape, formatPercent
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// truncate - Kuerzt s auf width Terminal-Spalten
func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

// formatShape - Formatiert eine Shape als "3x224x224", "-" wenn leer
func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "-"
	}

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	return strings.Join(dims, "x")
}

// formatPercent - Formatiert eine Wahrscheinlichkeit als Prozent mit einer Nachkommastelle
func formatPercent(p float32) string {
	return fmt.Sprintf("%.1f%%", p*100)
}
