package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// SourceMercadoLibre is the registry key for the MercadoLibre Chile adapter.
// It must match the source name in the sources table.
const SourceMercadoLibre = "MercadoLibre Chile"

// MercadoLibreScraper scrapes the MercadoLibre listing page. Selectors track
// the current ui-search markup and need revisiting when the site changes.
type MercadoLibreScraper struct {
	client *FetchClient
}

func NewMercadoLibreScraper(cfg ClientConfig) *MercadoLibreScraper {
	return &MercadoLibreScraper{client: NewFetchClient(cfg)}
}

func (s *MercadoLibreScraper) Scrape(ctx context.Context, in Input) ([]ScrapedItem, error) {
	defer s.client.Close()
	logger := log.With().Str("scraper", "mercadolibre").Str("query", in.Query).Logger()

	searchURL := fmt.Sprintf("%s/listado?search=%s", strings.TrimRight(in.BaseURL, "/"), url.QueryEscape(strings.ToLower(in.Query)))
	body, err := s.client.GetBody(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("mercadolibre fetch: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mercadolibre parse: %w", err)
	}

	items := make([]ScrapedItem, 0)
	doc.Find("li.ui-search-layout__item, div.ui-search-result__wrapper").Each(func(_ int, sel *goquery.Selection) {
		name := CleanText(sel.Find("h2.ui-search-item__title, a.ui-search-link__title").First().Text())

		priceText := sel.Find("span.andes-money-amount__fraction").First().Text()
		if cents := sel.Find("span.andes-money-amount__cents").First().Text(); cents != "" {
			priceText = priceText + "," + cents
		}

		href, _ := sel.Find("a.ui-search-link, a.ui-search-result__content").First().Attr("href")
		// Strip tracking parameters; the path alone identifies the listing.
		if i := strings.IndexByte(href, '?'); i >= 0 {
			href = href[:i]
		}

		if name == "" || priceText == "" || href == "" {
			return
		}
		price, err := ParsePrice(priceText)
		if err != nil {
			logger.Warn().Err(err).Str("name", name).Msg("Skipping item with unparseable price")
			return
		}

		items = append(items, ScrapedItem{
			Name:       name,
			Price:      price,
			Currency:   "CLP",
			ProductURL: href,
		})
	})

	logger.Info().Int("items", len(items)).Msg("MercadoLibre scrape parsed")
	return FilterValid(logger, items), nil
}
