package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Contact is a licence-holder postal contact as returned by the contacts
// lookup. One physical address can hold several licences; HashID collapses
// those rows so each address receives a single letter.
type Contact struct {
	LicenceRef   string `db:"licence_ref"`
	Name         string `db:"name"`
	AddressLine1 string `db:"address_line_1"`
	AddressLine2 string `db:"address_line_2"`
	AddressLine3 string `db:"address_line_3"`
	AddressLine4 string `db:"address_line_4"`
	Town         string `db:"town"`
	County       string `db:"county"`
	Postcode     string `db:"postcode"`
	Country      string `db:"country"`
}

// HashID identifies a unique contact identity: a hash over the normalized
// name and address fields, independent of which licence the row came from.
func (c *Contact) HashID() string {
	parts := []string{
		c.Name,
		c.AddressLine1,
		c.AddressLine2,
		c.AddressLine3,
		c.AddressLine4,
		c.Town,
		c.County,
		c.Postcode,
		c.Country,
	}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// AddressLines returns the non-empty address lines in postal order, starting
// with the contact name.
func (c *Contact) AddressLines() []string {
	lines := make([]string, 0, 8)
	for _, l := range []string{
		c.Name,
		c.AddressLine1,
		c.AddressLine2,
		c.AddressLine3,
		c.AddressLine4,
		c.Town,
		c.County,
		c.Postcode,
	} {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}
	return lines
}
