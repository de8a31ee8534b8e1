package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrRunNotFound      = errors.New("scrape run not found")
	ErrInvalidRunStatus = errors.New("invalid terminal run status")
)

// ProductRecord is one catalog item as last observed on the site.
// Empty strings and nil pointers mean "not observed".
type ProductRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Brand        string   `json:"brand,omitempty"`
	Category     string   `json:"category,omitempty"`
	Subcategory  string   `json:"subcategory,omitempty"`
	Description  string   `json:"description,omitempty"`
	Ingredients  string   `json:"ingredients,omitempty"`
	Weight       string   `json:"weight,omitempty"`
	Barcode      string   `json:"barcode,omitempty"`
	EAN          string   `json:"ean,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	PricePerUnit string   `json:"price_per_unit,omitempty"`
	InStock      bool     `json:"in_stock"`
	ImageURL     string   `json:"image_url,omitempty"`
	ProductURL   string   `json:"product_url,omitempty"`

	NutritionFacts json.RawMessage `json:"nutrition_facts,omitempty"`
	Allergens      json.RawMessage `json:"allergens,omitempty"`

	IsActive    bool      `json:"is_active"`
	LastScraped time.Time `json:"last_scraped"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPrice reports whether a price was observed.
func (p ProductRecord) HasPrice() bool {
	return p.Price != nil
}

// PriceOf is a convenience for building records with a known price.
func PriceOf(v float64) *float64 {
	return &v
}

// CategoryRef is a navigable category endpoint found on the homepage.
type CategoryRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// UpsertResult tells whether a product row was inserted or overwritten.
type UpsertResult string

const (
	Created UpsertResult = "created"
	Updated UpsertResult = "updated"
)
