package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SourceFalabella is the registry key for the Falabella Chile adapter.
const SourceFalabella = "Falabella Chile"

// FalabellaScraper scrapes the Falabella search page. The search results are
// usually embedded as a JSON-LD ItemList; the product-card markup is the
// fallback when the script block is missing.
type FalabellaScraper struct {
	client *FetchClient
}

func NewFalabellaScraper(cfg ClientConfig) *FalabellaScraper {
	return &FalabellaScraper{client: NewFetchClient(cfg)}
}

type ldItemList struct {
	Type            string `json:"@type"`
	ItemListElement []struct {
		Type   string `json:"@type"`
		Name   string `json:"name"`
		URL    string `json:"url"`
		Offers struct {
			Type  string          `json:"@type"`
			Price json.RawMessage `json:"price"`
		} `json:"offers"`
	} `json:"itemListElement"`
}

func (s *FalabellaScraper) Scrape(ctx context.Context, in Input) ([]ScrapedItem, error) {
	defer s.client.Close()
	logger := log.With().Str("scraper", "falabella").Str("query", in.Query).Logger()

	base := strings.TrimRight(in.BaseURL, "/")
	searchURL := fmt.Sprintf("%s/search?Ntt=%s", base, url.QueryEscape(strings.ToLower(in.Query)))
	body, err := s.client.GetBody(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("falabella fetch: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("falabella parse: %w", err)
	}

	if items := s.parseJSONLD(logger, doc); len(items) > 0 {
		return FilterValid(logger, items), nil
	}

	items := make([]ScrapedItem, 0)
	doc.Find("div.pod, div.product-card, div.product-item").Each(func(_ int, sel *goquery.Selection) {
		name := CleanText(sel.Find("b.pod-title, div.product-card__name, a.product-item__name").First().Text())
		priceText := CleanText(sel.Find("span.copy10, span.price, li.prices-0 span").First().Text())
		href, _ := sel.Find("a").First().Attr("href")

		if name == "" || priceText == "" || href == "" {
			return
		}
		price, err := ParsePrice(priceText)
		if err != nil {
			logger.Warn().Err(err).Str("name", name).Msg("Skipping item with unparseable price")
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = base + "/" + strings.TrimLeft(href, "/")
		}

		items = append(items, ScrapedItem{
			Name:       name,
			Price:      price,
			Currency:   "CLP",
			ProductURL: href,
		})
	})

	logger.Info().Int("items", len(items)).Msg("Falabella scrape parsed from HTML")
	return FilterValid(logger, items), nil
}

func (s *FalabellaScraper) parseJSONLD(logger zerolog.Logger, doc *goquery.Document) []ScrapedItem {
	items := make([]ScrapedItem, 0)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var list ldItemList
		if err := json.Unmarshal([]byte(sel.Text()), &list); err != nil {
			return true
		}
		if list.Type != "ItemList" {
			return true
		}
		for _, el := range list.ItemListElement {
			if el.Type != "Product" || el.Name == "" || el.URL == "" {
				continue
			}
			raw := strings.Trim(string(el.Offers.Price), `"`)
			if raw == "" || raw == "null" {
				continue
			}
			price, err := ParsePrice(raw)
			if err != nil {
				logger.Warn().Err(err).Str("name", el.Name).Msg("Skipping JSON-LD item with unparseable price")
				continue
			}
			items = append(items, ScrapedItem{
				Name:       CleanText(el.Name),
				Price:      price,
				Currency:   "CLP",
				ProductURL: el.URL,
			})
		}
		return false // first ItemList wins
	})
	if len(items) > 0 {
		logger.Info().Int("items", len(items)).Msg("Falabella scrape parsed from JSON-LD")
	}
	return items
}
