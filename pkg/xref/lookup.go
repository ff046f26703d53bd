package xref

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/prompt"
)

// Lookup defaults.
const (
	DefaultLimit       = 10
	DefaultMinStrength = 0.5
)

// ErrNoVerses is returned by Lookup when no anchor verse is given.
var ErrNoVerses = errors.New(`must provide either "verse" or "verses"`)

// Source answers cross-reference queries. *Store and *Cached implement it.
type Source interface {
	Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error)
	Connections(ctx context.Context, req ConnectionRequest) ([][]Connection, error)
}

// LookupRequest asks for the cross-references of one or more anchor verses.
type LookupRequest struct {
	Verses      []string `json:"verses"`
	Limit       int      `json:"limit"`
	MinStrength float64  `json:"min_strength"`
}

// LookupResult lists cross-references, deduplicated by reference.
type LookupResult struct {
	AnchorVerses    []string                `json:"anchor_verses"`
	CrossReferences []models.CrossReference `json:"cross_references"`
	TotalFound      int                     `json:"total_found"`
	Returned        int                     `json:"returned"`
}

// Lookup collects the cross-references of every verse in req whose strength
// is at least req.MinStrength. The first occurrence of a reference wins and
// at most req.Limit are returned; TotalFound counts all of them.
func (s *Store) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var anchors []string
	for _, v := range req.Verses {
		if v = strings.TrimSpace(v); v != "" {
			anchors = append(anchors, v)
		}
	}
	if len(anchors) == 0 {
		return nil, ErrNoVerses
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := make(map[string]bool)
	found := []models.CrossReference{}
	for _, anchor := range anchors {
		for _, it := range s.items(anchor) {
			if it.strength() < req.MinStrength || seen[it.CrossRef] {
				continue
			}
			seen[it.CrossRef] = true
			found = append(found, crossReference(it))
		}
	}

	out := &LookupResult{AnchorVerses: anchors, TotalFound: len(found)}
	out.CrossReferences = found[:min(limit, len(found))]
	out.Returned = len(out.CrossReferences)
	return out, nil
}

func crossReference(it Item) models.CrossReference {
	cr := models.CrossReference{
		Reference:  it.CrossRef,
		DisplayRef: Label(it.CrossRef),
		Text:       it.Text,
		AnchorRef:  it.AnchorRef,
		Connection: models.ConnectionData{
			Categories:  it.categories(),
			Strength:    it.strength(),
			Type:        ConnectionType(it.PrimaryCategory),
			Explanation: it.Reasoning,
		},
	}
	if loc, err := prompt.ParseReference(it.CrossRef); err == nil {
		cr.Context = &loc
	}
	return cr
}

// ConnectionRequest asks how an anchor relates to candidate passages.
// AnchorRef is "Book.Chapter.Verse" or "Book.Chapter"; an empty Candidates
// list selects every curated cross-reference.
type ConnectionRequest struct {
	AnchorRef   string   `json:"anchor_ref"`
	Candidates  []string `json:"candidate_refs"`
	MinStrength float64  `json:"min_strength"`
}

// ConnectionMetadata holds derived traits of a connection.
type ConnectionMetadata struct {
	ThematicOverlap    float64 `json:"thematic_overlap"`
	HistoricalContext  bool    `json:"historical_context"`
	LiteraryConnection bool    `json:"literary_connection"`
}

// Connection is a scored link from an anchor verse.
type Connection struct {
	Reference   string             `json:"reference"`
	Strength    float64            `json:"strength"`
	Categories  []string           `json:"categories"`
	Type        string             `json:"type"`
	Explanation string             `json:"explanation"`
	AnchorVerse string             `json:"anchor_verse"`
	Metadata    ConnectionMetadata `json:"metadata"`
}

// Connections returns one group of connections per anchor verse, each sorted
// by descending strength. A verse anchor always yields exactly one group; a
// chapter anchor yields a group for every verse with a matching connection.
func (s *Store) Connections(ctx context.Context, req ConnectionRequest) ([][]Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	anchor := Normalize(strings.TrimSpace(req.AnchorRef))
	parts := strings.Split(anchor, ".")
	switch len(parts) {
	case 3:
		if _, err := prompt.ParseReference(anchor); err != nil {
			return nil, err
		}
		return [][]Connection{s.connect(anchor, req)}, nil
	case 2:
		chapter, err := strconv.Atoi(parts[1])
		if err != nil || parts[0] == "" || chapter < 1 {
			break
		}
		groups := [][]Connection{}
		for _, verse := range s.chapterAnchors(parts[0], chapter) {
			if conns := s.connect(verse, req); len(conns) > 0 {
				groups = append(groups, conns)
			}
		}
		return groups, nil
	}
	return nil, fmt.Errorf("%w: %q, expected Book.Chapter or Book.Chapter.Verse", prompt.ErrInvalidReference, req.AnchorRef)
}

// chapterAnchors returns the stored anchors in book and chapter, in verse order.
func (s *Store) chapterAnchors(book string, chapter int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type located struct {
		ref   string
		verse int
	}
	var found []located
	for _, ref := range s.order {
		loc, err := prompt.ParseReference(ref)
		if err == nil && loc.Book == book && loc.Chapter == chapter {
			found = append(found, located{ref, loc.Verse})
		}
	}
	slices.SortFunc(found, func(a, b located) int { return cmp.Compare(a.verse, b.verse) })

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.ref
	}
	return out
}

func (s *Store) connect(anchor string, req ConnectionRequest) []Connection {
	items := s.items(anchor)
	if len(req.Candidates) > 0 {
		var picked []Item
		for _, c := range req.Candidates {
			i := slices.IndexFunc(items, func(it Item) bool { return Normalize(it.CrossRef) == Normalize(c) })
			if i >= 0 {
				picked = append(picked, items[i])
			}
		}
		items = picked
	}

	out := []Connection{}
	for _, it := range items {
		st := it.strength()
		if st < req.MinStrength {
			continue
		}
		cats := it.categories()
		typ := ConnectionType(it.PrimaryCategory)
		out = append(out, Connection{
			Reference:   it.CrossRef,
			Strength:    st,
			Categories:  cats,
			Type:        typ,
			Explanation: it.Reasoning,
			AnchorVerse: anchor,
			Metadata: ConnectionMetadata{
				ThematicOverlap:    thematicOverlap(anchor, it.CrossRef),
				HistoricalContext:  slices.ContainsFunc(cats, historicalCategories.contains),
				LiteraryConnection: literaryTypes.contains(typ),
			},
		})
	}
	slices.SortStableFunc(out, func(a, b Connection) int { return cmp.Compare(b.Strength, a.Strength) })
	return out
}

type set map[string]bool

func (s set) contains(v string) bool { return s[v] }

var (
	historicalCategories = set{"historical_context": true, "chronology": true, "genealogy": true, "geographical": true}
	literaryTypes        = set{"quotation": true, "allusion": true, "parallel": true, "contrast": true}
	newTestament         = set{}
)

func init() {
	for _, b := range []string{
		"Matthew", "Matt", "Mark", "Luke", "John", "Acts", "Romans", "Rom",
		"1Corinthians", "1Cor", "2Corinthians", "2Cor", "Galatians", "Gal",
		"Ephesians", "Eph", "Philippians", "Phil", "Colossians", "Col",
		"1Thessalonians", "1Thess", "2Thessalonians", "2Thess", "1Timothy", "1Tim",
		"2Timothy", "2Tim", "Titus", "Philemon", "Phlm", "Hebrews", "Heb",
		"James", "Jas", "1Peter", "1Pet", "2Peter", "2Pet", "1John", "2John",
		"3John", "Jude", "Revelation", "Rev",
	} {
		newTestament[b] = true
	}
}

// thematicOverlap scores two passages by book: same book 0.9, same
// testament 0.6, otherwise 0.3.
func thematicOverlap(anchor, candidate string) float64 {
	a, _, _ := strings.Cut(anchor, ".")
	c, _, _ := strings.Cut(candidate, ".")
	switch {
	case a == c:
		return 0.9
	case newTestament[a] == newTestament[c]:
		return 0.6
	default:
		return 0.3
	}
}
