// Package abbreviation holds static short-form tables consulted before fuzzy
// scoring. A table hit is authoritative.
package abbreviation

import (
	"strings"

	"mdnorm/internal/normalize/models"
	labels "mdnorm/pkg/platform/strings"
)

// Table maps normalized short forms and historic names to canonical labels.
type Table struct {
	entries map[string]string
}

// New builds a table. Keys are normalized so callers may pass "U.P." or "up".
func New(entries map[string]string) *Table {
	t := &Table{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		if key := Normalize(k); key != "" {
			t.entries[key] = v
		}
	}
	return t
}

// Normalize folds a raw label and drops dots, so "U.P." and "u p" do not
// differ from "up" only by punctuation.
func Normalize(raw string) string {
	return labels.Fold(strings.ReplaceAll(raw, ".", ""))
}

// Lookup returns the canonical label for raw when raw is a known short form.
func (t *Table) Lookup(raw string) (string, bool) {
	if t == nil {
		return "", false
	}
	canonical, ok := t.entries[Normalize(raw)]
	return canonical, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// ForCategory returns the built-in table for a category, or an empty table.
func ForCategory(c models.Category) *Table {
	switch c {
	case models.CategoryState:
		return New(stateAbbreviations)
	case models.CategoryCity:
		return New(cityAbbreviations)
	default:
		return New(nil)
	}
}

var stateAbbreviations = map[string]string{
	"ap":          "Andhra Pradesh",
	"ar":          "Arunachal Pradesh",
	"as":          "Assam",
	"br":          "Bihar",
	"cg":          "Chhattisgarh",
	"ct":          "Chhattisgarh",
	"ga":          "Goa",
	"gj":          "Gujarat",
	"hr":          "Haryana",
	"hp":          "Himachal Pradesh",
	"jh":          "Jharkhand",
	"ka":          "Karnataka",
	"kl":          "Kerala",
	"mp":          "Madhya Pradesh",
	"mh":          "Maharashtra",
	"mn":          "Manipur",
	"ml":          "Meghalaya",
	"mz":          "Mizoram",
	"nl":          "Nagaland",
	"od":          "Odisha",
	"or":          "Odisha",
	"orissa":      "Odisha",
	"pb":          "Punjab",
	"rj":          "Rajasthan",
	"sk":          "Sikkim",
	"tn":          "Tamil Nadu",
	"ts":          "Telangana",
	"tg":          "Telangana",
	"tr":          "Tripura",
	"up":          "Uttar Pradesh",
	"uk":          "Uttarakhand",
	"ut":          "Uttarakhand",
	"uttaranchal": "Uttarakhand",
	"wb":          "West Bengal",
	"an":          "Andaman and Nicobar Islands",
	"ch":          "Chandigarh",
	"dnhdd":       "Dadra and Nagar Haveli and Daman and Diu",
	"dl":          "Delhi",
	"nct":         "Delhi",
	"jk":          "Jammu and Kashmir",
	"j&k":         "Jammu and Kashmir",
	"la":          "Ladakh",
	"ld":          "Lakshadweep",
	"py":          "Puducherry",
	"pondicherry": "Puducherry",
}

var cityAbbreviations = map[string]string{
	"bombay":     "Mumbai",
	"calcutta":   "Kolkata",
	"madras":     "Chennai",
	"bengaluru":  "Bangalore",
	"gurugram":   "Gurgaon",
	"vizag":      "Visakhapatnam",
	"trivandrum": "Thiruvananthapuram",
	"cochin":     "Kochi",
	"mysuru":     "Mysore",
	"poona":      "Pune",
	"baroda":     "Vadodara",
	"benares":    "Varanasi",
	"banaras":    "Varanasi",
	"hyd":        "Hyderabad",
	"amd":        "Ahmedabad",
	"bbsr":       "Bhubaneswar",
	"new delhi":  "Delhi",
}
