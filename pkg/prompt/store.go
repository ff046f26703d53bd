package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/crosstrails/crosstrails/pkg/models"
)

// ErrInvalidReference is returned for references not in Book.chapter.verse form.
var ErrInvalidReference = errors.New("invalid reference format")

// VerseFetcher looks up a verse and up to contextRange neighbouring verses
// on each side. A missing verse is reported as ErrVerseNotFound.
type VerseFetcher interface {
	VerseContext(ctx context.Context, ref string, contextRange int) (*models.VerseContext, error)
}

// ParseReference splits a dotted reference such as "John.3.16".
func ParseReference(ref string) (models.VerseLocation, error) {
	parts := strings.Split(strings.TrimSpace(ref), ".")
	if len(parts) != 3 || parts[0] == "" {
		return models.VerseLocation{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	chapter, err := strconv.Atoi(parts[1])
	if err != nil || chapter < 1 {
		return models.VerseLocation{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	verse, err := strconv.Atoi(parts[2])
	if err != nil || verse < 1 {
		return models.VerseLocation{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return models.VerseLocation{Book: parts[0], Chapter: chapter, Verse: verse}, nil
}

// Store is an in-memory VerseFetcher.
type Store struct {
	mu     sync.RWMutex
	verses map[string]string
}

// NewStore creates a Store holding verses.
func NewStore(verses ...models.Verse) *Store {
	s := &Store{verses: make(map[string]string, len(verses))}
	s.Add(verses...)
	return s
}

// LoadStore reads a YAML verses file of the form:
//
//	verses:
//	  - reference: John.3.16
//	    text: For God so loved the world...
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verses file: %w", err)
	}
	var doc struct {
		Verses []models.Verse `yaml:"verses"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse verses file: %w", err)
	}
	for _, v := range doc.Verses {
		if _, err := ParseReference(v.Reference); err != nil {
			return nil, fmt.Errorf("verses file: %w", err)
		}
	}
	return NewStore(doc.Verses...), nil
}

// Add inserts or replaces verses. Entries with malformed references are skipped.
func (s *Store) Add(verses ...models.Verse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range verses {
		loc, err := ParseReference(v.Reference)
		if err != nil {
			continue
		}
		s.verses[loc.Reference()] = v.Text
	}
}

// Len returns the number of stored verses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.verses)
}

// VerseContext implements VerseFetcher. Neighbours missing from the store
// are skipped.
func (s *Store) VerseContext(ctx context.Context, ref string, contextRange int) (*models.VerseContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	text, ok := s.verses[loc.Reference()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVerseNotFound, ref)
	}
	out := &models.VerseContext{Verse: models.Verse{Reference: loc.Reference(), Text: text}}

	neighbour := func(n int, pos models.ContextPosition) {
		nl := models.VerseLocation{Book: loc.Book, Chapter: loc.Chapter, Verse: n}
		if t, ok := s.verses[nl.Reference()]; ok {
			out.Context = append(out.Context, models.ContextVerse{Reference: nl.Reference(), Text: t, Position: pos})
		}
	}
	for n := max(1, loc.Verse-contextRange); n < loc.Verse; n++ {
		neighbour(n, models.PositionBefore)
	}
	for n := loc.Verse + 1; n <= loc.Verse+contextRange; n++ {
		neighbour(n, models.PositionAfter)
	}
	return out, nil
}
