// Package canonical provides the approved label sets each category is
// normalized against. Sets are fixed at construction and never fetched per call.
package canonical

import (
	"mdnorm/internal/normalize/models"
)

// Set is an ordered, immutable list of approved labels. Order matters: the
// matcher breaks score ties in favour of the earlier label.
type Set struct {
	labels []string
	index  map[string]struct{}
}

// NewSet copies labels into a Set, dropping exact duplicates.
func NewSet(labels ...string) Set {
	s := Set{
		labels: make([]string, 0, len(labels)),
		index:  make(map[string]struct{}, len(labels)),
	}
	for _, l := range labels {
		if _, ok := s.index[l]; ok || l == "" {
			continue
		}
		s.index[l] = struct{}{}
		s.labels = append(s.labels, l)
	}
	return s
}

// Labels returns a copy of the labels in order.
func (s Set) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Len returns the number of labels.
func (s Set) Len() int { return len(s.labels) }

// At returns the label at position i.
func (s Set) At(i int) string { return s.labels[i] }

// Contains reports whether label is an exact member.
func (s Set) Contains(label string) bool {
	_, ok := s.index[label]
	return ok
}

// ForCategory returns the built-in set for a category, or an empty set.
func ForCategory(c models.Category) Set {
	switch c {
	case models.CategoryState:
		return NewSet(indianStates...)
	case models.CategoryCity:
		return NewSet(indianCities...)
	default:
		return NewSet()
	}
}

// States and union territories of India.
var indianStates = []string{
	"Andhra Pradesh",
	"Arunachal Pradesh",
	"Assam",
	"Bihar",
	"Chhattisgarh",
	"Goa",
	"Gujarat",
	"Haryana",
	"Himachal Pradesh",
	"Jharkhand",
	"Karnataka",
	"Kerala",
	"Madhya Pradesh",
	"Maharashtra",
	"Manipur",
	"Meghalaya",
	"Mizoram",
	"Nagaland",
	"Odisha",
	"Punjab",
	"Rajasthan",
	"Sikkim",
	"Tamil Nadu",
	"Telangana",
	"Tripura",
	"Uttar Pradesh",
	"Uttarakhand",
	"West Bengal",
	"Andaman and Nicobar Islands",
	"Chandigarh",
	"Dadra and Nagar Haveli and Daman and Diu",
	"Delhi",
	"Jammu and Kashmir",
	"Ladakh",
	"Lakshadweep",
	"Puducherry",
}

var indianCities = []string{
	"Mumbai",
	"Delhi",
	"Bangalore",
	"Hyderabad",
	"Ahmedabad",
	"Chennai",
	"Kolkata",
	"Pune",
	"Jaipur",
	"Surat",
	"Lucknow",
	"Kanpur",
	"Nagpur",
	"Indore",
	"Thane",
	"Bhopal",
	"Visakhapatnam",
	"Patna",
	"Vadodara",
	"Ghaziabad",
	"Ludhiana",
	"Agra",
	"Nashik",
	"Faridabad",
	"Meerut",
	"Rajkot",
	"Varanasi",
	"Srinagar",
	"Aurangabad",
	"Amritsar",
	"Noida",
	"Gurgaon",
	"Chandigarh",
	"Coimbatore",
	"Kochi",
	"Guwahati",
	"Bhubaneswar",
	"Dehradun",
	"Mysore",
	"Thiruvananthapuram",
	"Madurai",
	"Raipur",
	"Ranchi",
	"Jodhpur",
	"Udaipur",
	"Vijayawada",
}
