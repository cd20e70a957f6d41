package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint computes the content fingerprint over a record's
// specification sections. It is a pure function of the section content:
// section and field ordering do not affect the result, so two pages that
// merely reorder their tables fingerprint identically.
func Fingerprint(sections []SpecSection) string {
	type line struct {
		category, field, value string
	}

	lines := make([]line, 0, len(sections)*8)
	for _, section := range sections {
		for _, f := range section.Fields {
			lines = append(lines, line{section.Category, f.Name, f.Value})
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].category != lines[j].category {
			return lines[i].category < lines[j].category
		}
		if lines[i].field != lines[j].field {
			return lines[i].field < lines[j].field
		}
		return lines[i].value < lines[j].value
	})

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l.category))
		h.Write([]byte{0x1f})
		h.Write([]byte(l.field))
		h.Write([]byte{0x1f})
		h.Write([]byte(l.value))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}
