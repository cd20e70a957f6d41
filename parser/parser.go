// Package parser turns raw catalog markup into structured records. All
// functions are pure: they never fetch, and tolerate missing or reordered
// page sections.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-specs/models"
)

// ParseError reports a page that failed the minimal structural check. It
// distinguishes "not a device page" from a device page with sparse content.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

var deviceCountRe = regexp.MustCompile(`(\d+)\s*devices?`)

// BrandIndex extracts the brand catalog from the source's makers page.
// Each link in the brand menu carries the display name and a trailing
// device count.
func BrandIndex(baseURL string, body []byte) ([]models.Brand, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: baseURL, Reason: fmt.Sprintf("invalid markup: %v", err)}
	}

	links := doc.Find("div.brandmenu-v2 ul li a")
	if links.Length() == 0 {
		links = doc.Find("div.st-text a")
	}
	if links.Length() == 0 {
		return nil, &ParseError{URL: baseURL, Reason: "no brand menu located"}
	}

	var brands []models.Brand
	links.Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		fullText := strings.TrimSpace(sel.Text())
		name := strings.TrimSpace(trimTrailingDigits(fullText))
		if name == "" {
			return
		}

		count := 0
		if m := deviceCountRe.FindStringSubmatch(fullText); m != nil {
			count, _ = strconv.Atoi(m[1])
		}

		brands = append(brands, models.Brand{
			Name:                name,
			CanonicalID:         models.BrandIDFromName(name),
			ListingURL:          resolveURL(baseURL, href),
			DeclaredDeviceCount: count,
			Active:              true,
		})
	})

	if len(brands) == 0 {
		return nil, &ParseError{URL: baseURL, Reason: "brand menu contained no usable links"}
	}
	return brands, nil
}

// DeviceListing extracts the device entries of one brand listing page and
// the URL of the next page, if any. The source marks the current page with
// a <strong> inside the nav block; the following anchor is the next page.
func DeviceListing(pageURL string, body []byte) ([]models.DeviceRef, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", &ParseError{URL: pageURL, Reason: fmt.Sprintf("invalid markup: %v", err)}
	}

	items := doc.Find("div.makers ul li")
	if items.Length() == 0 && doc.Find("div.makers").Length() == 0 {
		return nil, "", &ParseError{URL: pageURL, Reason: "no device list located"}
	}

	var refs []models.DeviceRef
	items.Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		name := strings.TrimSpace(link.Text())
		if name == "" {
			return
		}
		imageURL, _ := sel.Find("img").First().Attr("src")
		refs = append(refs, models.DeviceRef{
			Name:     name,
			URL:      resolveURL(pageURL, href),
			ImageURL: imageURL,
		})
	})

	next := ""
	current := doc.Find("div.nav-pages strong").First()
	if current.Length() > 0 {
		if link := current.NextAllFiltered("a").First(); link.Length() > 0 {
			if href, ok := link.Attr("href"); ok && href != "" && href != "#" {
				next = resolveURL(pageURL, href)
			}
		}
	}

	return refs, next, nil
}

// DevicePage converts a raw detail page into a DeviceRecord. The caller
// assigns DeviceID, BrandID and timestamps. Absent specification categories
// are simply omitted; only a page with no specification table at all fails.
func DevicePage(pageURL string, body []byte) (*models.DeviceRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: fmt.Sprintf("invalid markup: %v", err)}
	}

	sections := parseSpecTables(doc)
	if len(sections) == 0 {
		return nil, &ParseError{URL: pageURL, Reason: "no specification table located"}
	}

	record := &models.DeviceRecord{
		DisplayName:    strings.TrimSpace(doc.Find("h1.specs-phone-name-title").First().Text()),
		Specifications: sections,
		ImageURLs:      parseImageURLs(pageURL, doc),
	}
	record.ContentFingerprint = models.Fingerprint(record.Specifications)
	return record, nil
}

func parseSpecTables(doc *goquery.Document) []models.SpecSection {
	var sections []models.SpecSection
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		category := strings.TrimSpace(table.Find("th").First().Text())
		if category == "" {
			return
		}

		section := models.SpecSection{Category: category}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			nameCell := row.Find("td.ttl").First()
			valueCell := row.Find("td.nfo").First()
			if valueCell.Length() == 0 {
				return
			}

			value := strings.TrimSpace(valueCell.Text())
			if value == "" {
				return
			}

			name := strings.TrimSpace(nameCell.Text())
			if name == "" || name == " " {
				// Continuation row: extends the previous field's value.
				if n := len(section.Fields); n > 0 {
					section.Fields[n-1].Value += "\n" + value
					return
				}
				if key, ok := valueCell.Attr("data-spec"); ok {
					name = key
				} else {
					return
				}
			}
			section.Fields = append(section.Fields, models.SpecField{Name: name, Value: value})
		})

		if len(section.Fields) > 0 {
			sections = append(sections, section)
		}
	})
	return sections
}

func parseImageURLs(pageURL string, doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(raw string) {
		if raw == "" || strings.HasSuffix(raw, "placeholder.jpg") {
			return
		}
		resolved := resolveURL(pageURL, raw)
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	}

	doc.Find("div.specs-photo-main a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("div.specs-photo-sub a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			add(href)
		}
	})
	doc.Find("#pictures-list img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		}
	})
	return urls
}

// ValidateRecord ensures a parsed record carries the fields downstream
// consumers rely on.
func ValidateRecord(r *models.DeviceRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		return fmt.Errorf("record missing display name")
	}
	if len(r.Specifications) == 0 {
		return fmt.Errorf("record missing specifications for %s", r.DisplayName)
	}
	if r.ContentFingerprint == "" {
		return fmt.Errorf("record missing fingerprint for %s", r.DisplayName)
	}
	return nil
}

func trimTrailingDigits(text string) string {
	for i, r := range text {
		if r >= '0' && r <= '9' {
			return text[:i]
		}
	}
	return text
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
