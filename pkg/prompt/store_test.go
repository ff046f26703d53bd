package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstrails/crosstrails/pkg/models"
)

func TestParseReference(t *testing.T) {
	loc, err := ParseReference("John.3.16")
	require.NoError(t, err)
	assert.Equal(t, models.VerseLocation{Book: "John", Chapter: 3, Verse: 16}, loc)

	for _, bad := range []string{"", "John 3:16", "John.3", "John.x.16", ".3.16", "John.0.1"} {
		_, err := ParseReference(bad)
		assert.ErrorIs(t, err, ErrInvalidReference, bad)
	}
}

func TestLoadStore(t *testing.T) {
	s, err := LoadStore(filepath.Join("testdata", "verses.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, s.Len())

	vc, err := s.VerseContext(context.Background(), "John.3.16", 2)
	require.NoError(t, err)
	assert.Contains(t, vc.Verse.Text, "God loved the world")
	require.Len(t, vc.Context, 3)
	assert.Equal(t, models.ContextVerse{Reference: "John.3.14", Text: vc.Context[0].Text, Position: models.PositionBefore}, vc.Context[0])
	assert.Equal(t, "John.3.15", vc.Context[1].Reference)
	assert.Equal(t, models.PositionAfter, vc.Context[2].Position)
	assert.Equal(t, "John.3.17", vc.Context[2].Reference)
}

func TestLoadStoreErrors(t *testing.T) {
	_, err := LoadStore(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verses:\n  - reference: John 3:16\n    text: x\n"), 0o644))
	_, err = LoadStore(path)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestStoreVerseContext(t *testing.T) {
	s := NewStore(
		models.Verse{Reference: "Gen.1.1", Text: "In the beginning"},
		models.Verse{Reference: "Gen.1.2", Text: "The earth was formless"},
	)

	vc, err := s.VerseContext(context.Background(), "Gen.1.1", 3)
	require.NoError(t, err)
	require.Len(t, vc.Context, 1, "verses before 1 and absent neighbours are skipped")
	assert.Equal(t, models.PositionAfter, vc.Context[0].Position)

	_, err = s.VerseContext(context.Background(), "Gen.1.3", 1)
	assert.ErrorIs(t, err, ErrVerseNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.VerseContext(ctx, "Gen.1.1", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
