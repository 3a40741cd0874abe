package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mercadoLibreFixture = `<!DOCTYPE html>
<html><body>
<ol>
  <li class="ui-search-layout__item">
    <a class="ui-search-link" href="https://articulo.mercadolibre.cl/MLC-111-iphone-15?tracking_id=abc#position=1">
      <h2 class="ui-search-item__title">Apple iPhone 15 128GB</h2>
    </a>
    <span class="andes-money-amount__fraction">899.990</span>
  </li>
  <li class="ui-search-layout__item">
    <a class="ui-search-link" href="https://articulo.mercadolibre.cl/MLC-222-funda">
      <h2 class="ui-search-item__title">Funda iPhone 15</h2>
    </a>
    <span class="andes-money-amount__fraction">9.990</span>
    <span class="andes-money-amount__cents">50</span>
  </li>
  <li class="ui-search-layout__item">
    <a class="ui-search-link" href="https://articulo.mercadolibre.cl/MLC-333-sin-precio">
      <h2 class="ui-search-item__title">Item without price</h2>
    </a>
  </li>
</ol>
</body></html>`

func TestMercadoLibreScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listado", r.URL.Path)
		assert.Equal(t, "iphone 15", r.URL.Query().Get("search"))
		w.Write([]byte(mercadoLibreFixture))
	}))
	defer srv.Close()

	s := NewMercadoLibreScraper(testClientConfig())
	items, err := s.Scrape(context.Background(), Input{
		Query:      "iphone 15",
		SourceName: SourceMercadoLibre,
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Apple iPhone 15 128GB", items[0].Name)
	assert.Equal(t, "899990", items[0].Price.String())
	assert.Equal(t, "CLP", items[0].Currency)
	// Tracking parameters are stripped from the listing URL.
	assert.Equal(t, "https://articulo.mercadolibre.cl/MLC-111-iphone-15", items[0].ProductURL)

	assert.Equal(t, "Funda iPhone 15", items[1].Name)
	assert.Equal(t, "9990.5", items[1].Price.String())
}

func TestMercadoLibreScrapeEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Sin resultados</p></body></html>"))
	}))
	defer srv.Close()

	s := NewMercadoLibreScraper(testClientConfig())
	items, err := s.Scrape(context.Background(), Input{Query: "zzz", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMercadoLibreScrapeFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewMercadoLibreScraper(testClientConfig())
	_, err := s.Scrape(context.Background(), Input{Query: "iphone", BaseURL: srv.URL})
	require.Error(t, err)
}
