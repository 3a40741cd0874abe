package scraper

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestScrapedItemValidate(t *testing.T) {
	valid := ScrapedItem{
		Name:       "Notebook",
		Price:      decimal.NewFromInt(499990),
		Currency:   "CLP",
		ProductURL: "https://example.cl/p/notebook",
	}

	tests := []struct {
		name    string
		mutate  func(it *ScrapedItem)
		wantErr bool
	}{
		{"Valid item", func(it *ScrapedItem) {}, false},
		{"Zero price is valid", func(it *ScrapedItem) { it.Price = decimal.Zero }, false},
		{"Empty name", func(it *ScrapedItem) { it.Name = "   " }, true},
		{"Negative price", func(it *ScrapedItem) { it.Price = decimal.NewFromInt(-1) }, true},
		{"Relative url", func(it *ScrapedItem) { it.ProductURL = "/p/notebook" }, true},
		{"Empty url", func(it *ScrapedItem) { it.ProductURL = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := valid
			tt.mutate(&it)
			err := it.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterValid(t *testing.T) {
	items := []ScrapedItem{
		{Name: "Good", Price: decimal.NewFromInt(100), Currency: "CLP", ProductURL: "https://example.cl/a"},
		{Name: "", Price: decimal.NewFromInt(100), Currency: "CLP", ProductURL: "https://example.cl/b"},
		{Name: "Bad URL", Price: decimal.NewFromInt(100), Currency: "CLP", ProductURL: "not-a-url"},
		{Name: "Also good", Price: decimal.Zero, Currency: "CLP", ProductURL: "https://example.cl/c"},
	}

	valid := FilterValid(zerolog.Nop(), items)
	assert.Len(t, valid, 2)
	assert.Equal(t, "Good", valid[0].Name)
	assert.Equal(t, "Also good", valid[1].Name)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Notebook Gamer 15", CleanText("  Notebook \n Gamer\t 15  "))
	assert.Equal(t, "", CleanText("   "))
}
