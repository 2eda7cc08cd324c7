// Package catalog defines the card reference entity and its SQLite store.
package catalog

import (
	"encoding/json"
	"strings"
)

// Card is a catalog reference entity. Records are created by ingestion and
// never mutated by the matcher; the enrichment columns are the only fields
// written after ingestion.
type Card struct {
	ID             string
	Name           string
	SetID          string
	SetName        string
	Series         string
	Number         string
	Rarity         string
	Category       string
	HP             string
	Types          string
	ImageURL       string
	LocalImagePath string

	// Enrichment cache, populated lazily on first display/export.
	Variants string // JSON: {"normal":bool,"reverse":bool,"holo":bool,...}
	SetTotal string
}

// Variant flags resolved by the enricher.
type VariantSet struct {
	Normal       bool `json:"normal"`
	Reverse      bool `json:"reverse"`
	Holo         bool `json:"holo"`
	FirstEdition bool `json:"firstEdition"`
	WPromo       bool `json:"wPromo"`
}

// DecodeVariants parses the cached variants column. Returns nil when the
// column is empty or malformed.
func (c *Card) DecodeVariants() *VariantSet {
	if strings.TrimSpace(c.Variants) == "" {
		return nil
	}
	var v VariantSet
	if err := json.Unmarshal([]byte(c.Variants), &v); err != nil {
		return nil
	}
	return &v
}

// HasSetPrefix reports whether the card's set id starts with any of the
// given prefixes.
func (c *Card) HasSetPrefix(prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(c.SetID, prefix) {
			return true
		}
	}
	return false
}
