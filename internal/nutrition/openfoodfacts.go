package nutrition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrProductNotFound reports a barcode unknown to the product database.
var ErrProductNotFound = errors.New("nutrition: product not found")

// Product is a barcode lookup result. Macro values are per serving when the
// database carries serving data, otherwise per 100g.
type Product struct {
	Name        string
	Kcal        int
	Proteins    int
	Carbs       int
	Fats        int
	Ingredients string
	ImageURL    string
}

// ProductClient resolves barcodes to products; satisfied by FoodFactsClient.
type ProductClient interface {
	Lookup(ctx context.Context, barcode string) (Product, error)
}

// FoodFactsClient queries the Open Food Facts v2 product API.
type FoodFactsClient struct {
	baseURL string
	client  *http.Client
}

// NewFoodFactsClient constructs a client against baseURL (the public API
// host in production, an httptest server in tests).
func NewFoodFactsClient(baseURL string) *FoodFactsClient {
	return &FoodFactsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type offResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName   string `json:"product_name"`
		IngredientsEN string `json:"ingredients_text_en"`
		Ingredients   string `json:"ingredients_text"`
		ImageURL      string `json:"image_url"`
		Nutriments    struct {
			KcalServing     float64 `json:"energy-kcal_serving"`
			Kcal100g        float64 `json:"energy-kcal_100g"`
			ProteinsServing float64 `json:"proteins_serving"`
			Proteins100g    float64 `json:"proteins_100g"`
			CarbsServing    float64 `json:"carbohydrates_serving"`
			Carbs100g       float64 `json:"carbohydrates_100g"`
			FatServing      float64 `json:"fat_serving"`
			Fat100g         float64 `json:"fat_100g"`
		} `json:"nutriments"`
	} `json:"product"`
}

// Lookup fetches the product for barcode. A 404 or a zero status field maps
// to ErrProductNotFound; transport and decode failures are returned as-is.
func (c *FoodFactsClient) Lookup(ctx context.Context, barcode string) (Product, error) {
	url := fmt.Sprintf("%s/api/v2/product/%s.json", c.baseURL, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Product{}, fmt.Errorf("product lookup: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("product lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Product{}, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Product{}, fmt.Errorf("product lookup: unexpected status %d", resp.StatusCode)
	}

	var body offResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Product{}, fmt.Errorf("product lookup: decode: %w", err)
	}
	if body.Status != 1 {
		return Product{}, ErrProductNotFound
	}

	n := body.Product.Nutriments
	ingredients := body.Product.IngredientsEN
	if ingredients == "" {
		ingredients = body.Product.Ingredients
	}
	return Product{
		Name:        body.Product.ProductName,
		Kcal:        perServing(n.KcalServing, n.Kcal100g),
		Proteins:    perServing(n.ProteinsServing, n.Proteins100g),
		Carbs:       perServing(n.CarbsServing, n.Carbs100g),
		Fats:        perServing(n.FatServing, n.Fat100g),
		Ingredients: ingredients,
		ImageURL:    body.Product.ImageURL,
	}, nil
}

// perServing prefers the serving value, falling back to per-100g.
func perServing(serving, per100 float64) int {
	if serving > 0 {
		return int(serving + 0.5)
	}
	return int(per100 + 0.5)
}
