package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Empty(t *testing.T) {
	s := NewSplitter(100, 10)
	assert.Empty(t, s.Split(""))
}

func TestSplit_ShorterThanSize(t *testing.T) {
	s := NewSplitter(100, 10)
	chunks := s.Split("Deploy on Friday.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Deploy on Friday.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 17, chunks[0].End)
}

func TestSplit_ExactlySize(t *testing.T) {
	s := NewSplitter(5, 2)
	chunks := s.Split("abcde")
	require.Len(t, chunks, 1)
	assert.Equal(t, "abcde", chunks[0].Text)
}

func TestSplit_RoundTripAndMaxLength(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"deploy", "friday", "the", "auth", "service", "über", "naïve", "日本語", "cache", "TTL"}
	seps := []string{" ", " ", " ", ". ", "\n", "\n\n", ", "}

	for _, params := range [][2]int{{50, 10}, {120, 30}, {300, 0}, {40, 39}, {7, 3}} {
		s := NewSplitter(params[0], params[1])
		for trial := 0; trial < 20; trial++ {
			var sb strings.Builder
			n := rng.Intn(400)
			for i := 0; i < n; i++ {
				sb.WriteString(words[rng.Intn(len(words))])
				sb.WriteString(seps[rng.Intn(len(seps))])
			}
			text := sb.String()

			chunks := s.Split(text)
			assert.Equal(t, text, Reassemble(chunks), "size=%d overlap=%d", params[0], params[1])
			for i, c := range chunks {
				assert.LessOrEqual(t, len([]rune(c.Text)), s.Size())
				assert.Equal(t, c.End-c.Start, len([]rune(c.Text)))
				if i > 0 {
					assert.Greater(t, c.Start, chunks[i-1].Start, "chunks must advance")
					assert.LessOrEqual(t, c.Start, chunks[i-1].End, "chunks must not leave gaps")
				}
			}
		}
	}
}

func TestSplit_RoundTripWithoutSeparators(t *testing.T) {
	s := NewSplitter(10, 3)
	text := strings.Repeat("x", 95)
	chunks := s.Split(text)
	assert.Equal(t, text, Reassemble(chunks))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 10)
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	s := NewSplitter(40, 5)
	text := "First paragraph is here.\n\nSecond paragraph goes on for a while longer."
	chunks := s.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "First paragraph is here.\n\n", chunks[0].Text)
}

func TestSplit_DoesNotSplitWords(t *testing.T) {
	s := NewSplitter(60, 15)
	text := strings.Repeat("The deployment date is Friday and the cache TTL is one hour. ", 20)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		if i < len(chunks)-1 {
			r := []rune(c.Text)
			assert.True(t, unicode.IsSpace(r[len(r)-1]), "chunk %d ends mid-word: %q", i, c.Text)
		}
		if i > 0 {
			assert.False(t, unicode.IsSpace([]rune(c.Text)[0]), "chunk %d starts with space: %q", i, c.Text)
		}
	}
}

func TestSplit_Overlaps(t *testing.T) {
	s := NewSplitter(60, 20)
	text := strings.Repeat("alpha beta gamma delta epsilon ", 10)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].Start, chunks[i-1].End, "expected overlap between chunk %d and %d", i-1, i)
	}
}

func TestChunks_Restartable(t *testing.T) {
	s := NewSplitter(30, 5)
	seq := s.Chunks(strings.Repeat("one two three four five ", 8))

	var first, second []Chunk
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second)
}

func TestChunks_EarlyStop(t *testing.T) {
	s := NewSplitter(10, 2)
	count := 0
	for range s.Chunks(strings.Repeat("abc ", 50)) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestNewSplitter_Normalizes(t *testing.T) {
	s := NewSplitter(0, -1)
	assert.Equal(t, DefaultChunkSize, s.Size())
	assert.Equal(t, 0, s.Overlap())

	s = NewSplitter(100, 100)
	assert.Equal(t, 50, s.Overlap())
}

func TestTexts(t *testing.T) {
	chunks := []Chunk{{Text: "a"}, {Text: "b"}}
	assert.Equal(t, []string{"a", "b"}, Texts(chunks))
}
