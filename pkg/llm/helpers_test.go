package llm

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/require"
)

// mapEnv builds a lookup function over a fixed environment.
func mapEnv(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func collect(seq iter.Seq2[StreamChunk, error]) ([]StreamChunk, error) {
	var chunks []StreamChunk
	for c, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// requireSingleTerminal asserts the stream ended with exactly one Done chunk.
func requireSingleTerminal(t *testing.T, chunks []StreamChunk) StreamChunk {
	t.Helper()
	require.NotEmpty(t, chunks)
	for _, c := range chunks[:len(chunks)-1] {
		require.False(t, c.Done, "only the last chunk may be terminal")
	}
	last := chunks[len(chunks)-1]
	require.True(t, last.Done, "last chunk must be terminal")
	require.NotNil(t, last.Usage, "terminal chunk carries usage")
	require.NotEmpty(t, last.Model, "terminal chunk carries model")
	return last
}
