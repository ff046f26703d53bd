package xref

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/crosstrails/crosstrails/pkg/prompt"
)

// Item is one curated link from an anchor verse to a related passage.
// Strength, when set, overrides Confidence (0-100).
type Item struct {
	AnchorRef         string   `yaml:"anchor_ref"`
	CrossRef          string   `yaml:"cross_ref"`
	Text              string   `yaml:"text"`
	PrimaryCategory   string   `yaml:"primary_category"`
	SecondaryCategory string   `yaml:"secondary_category"`
	Confidence        float64  `yaml:"confidence"`
	Strength          *float64 `yaml:"strength"`
	Reasoning         string   `yaml:"reasoning"`
}

func (it Item) strength() float64 {
	if it.Strength != nil {
		return *it.Strength
	}
	return it.Confidence / 100
}

func (it Item) categories() []string {
	var out []string
	for _, c := range []string{it.PrimaryCategory, it.SecondaryCategory} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Store is an in-memory cross-reference index keyed by anchor verse.
// Items keep their insertion order.
type Store struct {
	mu      sync.RWMutex
	anchors map[string][]Item
	order   []string
}

// NewStore creates a Store holding items.
func NewStore(items ...Item) *Store {
	s := &Store{anchors: make(map[string][]Item)}
	s.Add(items...)
	return s
}

// LoadStore reads a YAML cross-reference file of the form:
//
//	items:
//	  - anchor_ref: Matt.2.6
//	    cross_ref: Mic.5.2
//	    primary_category: quotation
//	    confidence: 98
//	    reasoning: Matthew quotes Micah directly.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cross-references file: %w", err)
	}
	var doc struct {
		Items []Item `yaml:"items"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cross-references file: %w", err)
	}
	for _, it := range doc.Items {
		if _, err := prompt.ParseReference(Normalize(it.AnchorRef)); err != nil {
			return nil, fmt.Errorf("cross-references file: %w", err)
		}
		if strings.TrimSpace(it.CrossRef) == "" {
			return nil, fmt.Errorf("cross-references file: item for %s has no cross_ref", it.AnchorRef)
		}
	}
	return NewStore(doc.Items...), nil
}

// Add appends items. Items whose anchor is not a verse reference are skipped.
func (s *Store) Add(items ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		anchor := Normalize(it.AnchorRef)
		if _, err := prompt.ParseReference(anchor); err != nil {
			continue
		}
		it.AnchorRef = anchor
		if _, ok := s.anchors[anchor]; !ok {
			s.order = append(s.order, anchor)
		}
		s.anchors[anchor] = append(s.anchors[anchor], it)
	}
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, items := range s.anchors {
		n += len(items)
	}
	return n
}

// items returns a copy of the items anchored at ref.
func (s *Store) items(ref string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.anchors[Normalize(ref)]...)
}

var (
	dotRuns  = regexp.MustCompile(`\.+`)
	bookPart = regexp.MustCompile(`^(\d*)([A-Za-z]+)\.`)
	lastPart = regexp.MustCompile(`\.(\d+(?:-\d+)?)$`)
)

// Normalize converts "Luke 1:5" style references to "Luke.1.5".
func Normalize(ref string) string {
	ref = strings.Join(strings.Fields(ref), ".")
	ref = strings.ReplaceAll(ref, ":", ".")
	return dotRuns.ReplaceAllString(ref, ".")
}

// Label renders a dotted reference for display: "1Cor.1.1" becomes "1 Cor 1:1".
func Label(ref string) string {
	out := bookPart.ReplaceAllStringFunc(ref, func(m string) string {
		sub := bookPart.FindStringSubmatch(m)
		return strings.TrimSpace(sub[1]+" "+sub[2]) + " "
	})
	return lastPart.ReplaceAllString(out, ":$1")
}

var connectionTypes = map[string]string{
	"literary_parallel":       "parallel",
	"theological_principle":   "thematic",
	"elaboration":             "elaboration",
	"historical_reference":    "historical",
	"parallel_instruction":    "parallel",
	"allusion":                "allusion",
	"contrast":                "contrast",
	"christological_parallel": "parallel",
	"quotation":               "quotation",
	"fulfillment":             "fulfillment",
}

// ConnectionType maps a curated category onto a connection type.
// Unknown categories are thematic.
func ConnectionType(category string) string {
	if t, ok := connectionTypes[category]; ok {
		return t
	}
	return "thematic"
}
