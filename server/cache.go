// MODUL: cache
// ZWECK: LRU-Cache fuer Vorhersagen einzelner Bilder
// INPUT: Modell und Eingabepuffer eines Bildes
// OUTPUT: Gecachter Ergebnisvektor
// NEBENEFFEKTE: Verdraengt alte Eintraege bei voller Kapazitaet
// ABHAENGIGKEITEN: hashicorp/golang-lru
// HINWEISE: Gueltig, weil Vorhersagen deterministisch sind; Schluessel enthaelt das Modell

package server

import (
	"crypto/sha256"
	"slices"

	lru "github.com/hashicorp/golang-lru"

	"github.com/moleinfer/moleinfer/ml"
	"github.com/moleinfer/moleinfer/model"
)

type cacheKey struct {
	model *model.Model
	sum   [sha256.Size]byte
}

// predictionCache ist nil-sicher: ein nil Cache speichert nichts
type predictionCache struct {
	lru *lru.Cache
}

func newPredictionCache(size int) (*predictionCache, error) {
	if size <= 0 {
		return nil, nil
	}

	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &predictionCache{lru: c}, nil
}

func key(m *model.Model, image []float32) cacheKey {
	return cacheKey{model: m, sum: sha256.Sum256(ml.EncodeF32(image))}
}

func (c *predictionCache) get(k cacheKey) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(k)
	if !ok {
		return nil, false
	}
	return slices.Clone(v.([]float32)), true
}

func (c *predictionCache) add(k cacheKey, scores []float32) {
	if c == nil {
		return
	}
	c.lru.Add(k, slices.Clone(scores))
}

func (c *predictionCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// purge leert den Cache, z.B. nach einem Modellwechsel
func (c *predictionCache) purge() {
	if c != nil {
		c.lru.Purge()
	}
}
