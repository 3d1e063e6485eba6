// Package enrich implements the per-record enrichment adapter: a headless
// browser fetch of the detail page, field extraction from the DOM and from
// script-embedded JSON, and the OCR fallback boundary for image-encoded
// contact fields.
package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/harvestkit/facultydir/internal/harvest"
)

// personJSON mirrors the schema.org Person blocks some directories embed.
type personJSON struct {
	Type      string `json:"@type"`
	JobTitle  string `json:"jobTitle"`
	Email     string `json:"email"`
	Telephone string `json:"telephone"`
	URL       string `json:"url"`
}

// Extract pulls detail fields out of a rendered profile page. A page with
// no recognizable profile container is a structural failure: the source
// answered, but not with the document we expected.
func Extract(html string) (harvest.DetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return harvest.DetailRecord{}, harvest.StructuralError(fmt.Errorf("parse detail page: %w", err))
	}

	container := doc.Find("#profile, .profile, .faculty-profile, [itemtype$='/Person']").First()
	if container.Length() == 0 {
		return harvest.DetailRecord{}, harvest.StructuralError(fmt.Errorf("profile container not found"))
	}

	var d harvest.DetailRecord
	applyEmbeddedPerson(doc, &d)

	if d.Title == "" {
		d.Title = text(container, ".title, .position, [itemprop='jobTitle']")
	}
	if d.Email == "" {
		d.Email = mailtoAddress(container)
	}
	if d.Email == "" {
		d.Email = text(container, "[itemprop='email'], .email")
	}
	if d.Phone == "" {
		d.Phone = text(container, "[itemprop='telephone'], .phone, .tel")
	}
	d.Office = text(container, ".office, .location, [itemprop='workLocation']")
	d.Bio = text(container, ".bio, .biography, [itemprop='description']")
	if d.Homepage == "" {
		if href, ok := container.Find("a.homepage, a[rel='author']").First().Attr("href"); ok {
			d.Homepage = strings.TrimSpace(href)
		}
	}

	// Some directories publish the address only as an image.
	if d.Email == "" {
		if src, ok := container.Find("img.email, img[data-email-image]").First().Attr("src"); ok {
			d.EmailImageRef = strings.TrimSpace(src)
		}
	}
	return d, nil
}

func applyEmbeddedPerson(doc *goquery.Document, d *harvest.DetailRecord) {
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var p personJSON
		if err := json.Unmarshal([]byte(s.Text()), &p); err != nil {
			return true // malformed block; keep looking
		}
		if !strings.EqualFold(p.Type, "Person") {
			return true
		}
		d.Title = strings.TrimSpace(p.JobTitle)
		d.Email = normalizeEmail(p.Email)
		d.Phone = strings.TrimSpace(p.Telephone)
		d.Homepage = strings.TrimSpace(p.URL)
		return false
	})
}

func text(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

func mailtoAddress(sel *goquery.Selection) string {
	href, ok := sel.Find("a[href^='mailto:']").First().Attr("href")
	if !ok {
		return ""
	}
	addr := strings.TrimPrefix(href, "mailto:")
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimSpace(addr)
}

func normalizeEmail(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.TrimPrefix(raw, "mailto:")
}
