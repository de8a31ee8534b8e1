package exporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"catalog-scraper/pkg/models"

	log "github.com/sirupsen/logrus"
)

// DefaultFile is used when no output path is given.
const DefaultFile = "products.json"

// ExportJSON writes products to path as an indented JSON array. An empty
// list still produces a file so the output is always valid JSON.
func ExportJSON(products []models.ProductRecord, path string) error {
	if path == "" {
		path = DefaultFile
	}
	if products == nil {
		products = []models.ProductRecord{}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	jsonData, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal products to JSON: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write JSON to file %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"file":  path,
		"count": len(products),
	}).Info("Exported products to JSON")
	return nil
}
