package scraper

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_tracker/config"
	"listing_tracker/identity"
	"listing_tracker/models"
)

// ErrUnrecognizedPage is returned when a detail page carries none of the
// fields the extractor looks for, e.g. an error or consent page served with 200.
var ErrUnrecognizedPage = errors.New("page does not look like a listing")

// IndexParser reads one page of the listing index.
type IndexParser interface {
	ParseIndex(doc *goquery.Document, pageURL *url.URL) (links []string, next string)
}

// SelectorExtractor maps a site's HTML onto Records using the CSS selectors
// from its YAML config. Fields it cannot locate are left nil.
type SelectorExtractor struct {
	sel config.Selectors
}

func NewSelectorExtractor(sel config.Selectors) *SelectorExtractor {
	return &SelectorExtractor{sel: sel}
}

// ParseIndex returns the listing links in document order and the absolute
// URL of the next page, empty when there is none.
func (e *SelectorExtractor) ParseIndex(doc *goquery.Document, pageURL *url.URL) ([]string, string) {
	var links []string
	doc.Find(e.sel.ListingLink).Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if link, ok := identity.Resolve(pageURL, href); ok {
			links = append(links, link)
		}
	})

	var next string
	if e.sel.NextPage != "" {
		if href, ok := doc.Find(e.sel.NextPage).First().Attr("href"); ok {
			next, _ = identity.Resolve(pageURL, href)
		}
	}
	return links, next
}

// Extract reads one detail page.
func (e *SelectorExtractor) Extract(doc *goquery.Document, pageURL string) (*models.Record, error) {
	details := e.detailValues(doc)
	labels := e.sel.Labels

	record := &models.Record{
		ID:          lookup(details, labels.ID),
		URL:         pageURL,
		Title:       e.text(doc, e.sel.Title),
		Price:       e.text(doc, e.sel.Price),
		Address:     e.text(doc, e.sel.Address),
		EnergyClass: lookup(details, labels.EnergyClass),
		Tags:        e.list(doc, e.sel.Tags),
	}
	if v := lookup(details, labels.Surface); v != nil {
		record.SurfaceArea = ParseSurface(*v)
	}
	if v := lookup(details, labels.Rooms); v != nil {
		record.RoomCount = ParseCount(*v)
	}
	if v := lookup(details, labels.Bathrooms); v != nil {
		record.BathroomCount = ParseCount(*v)
	}

	if record.ID == nil && record.Title == nil && record.Price == nil && record.Address == nil {
		return nil, ErrUnrecognizedPage
	}
	return record, nil
}

func (e *SelectorExtractor) text(doc *goquery.Document, selector string) *string {
	if selector == "" {
		return nil
	}
	return scrapedText(doc.Find(selector).First().Text())
}

// scrapedText treats a page that literally prints "N/A" like a missing field,
// since that is how absent text is persisted.
func scrapedText(raw string) *string {
	s := identity.NormalizeText(raw)
	if s == models.NotAvailable {
		return nil
	}
	return models.Text(s)
}

func (e *SelectorExtractor) list(doc *goquery.Document, selector string) []string {
	tags := []string{}
	if selector == "" {
		return tags
	}
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		if t := identity.NormalizeText(s.Text()); t != "" {
			tags = append(tags, t)
		}
	})
	return tags
}

type detailRow struct {
	label string
	value string
}

// detailValues collects the label/value rows of the details block in page order.
func (e *SelectorExtractor) detailValues(doc *goquery.Document) []detailRow {
	if e.sel.DetailRow == "" {
		return nil
	}
	var rows []detailRow
	doc.Find(e.sel.DetailRow).Each(func(i int, s *goquery.Selection) {
		label := s.Find(e.sel.DetailLabel).First()
		if label.Length() == 0 {
			return
		}
		value := s.Find(e.sel.DetailValue).First()
		if value.Length() == 0 {
			return
		}
		rows = append(rows, detailRow{
			label: identity.NormalizeText(label.Text()),
			value: identity.NormalizeText(value.Text()),
		})
	})
	return rows
}

// lookup returns the first row whose label contains want.
func lookup(rows []detailRow, want string) *string {
	if want == "" {
		return nil
	}
	for _, r := range rows {
		if strings.Contains(r.label, want) {
			return scrapedText(r.value)
		}
	}
	return nil
}

// ParseSurface reads the leading number of a value like "1.250,5 m²",
// treating "." as the thousands separator and "," as the decimal one.
func ParseSurface(raw string) *float64 {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	num := strings.ReplaceAll(fields[0], ".", "")
	num = strings.ReplaceAll(num, ",", ".")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ParseCount accepts only a plain non-negative integer; "5+" and "n.d." are absent.
func ParseCount(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
