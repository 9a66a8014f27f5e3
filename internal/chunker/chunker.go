// Package chunker splits transcript text into bounded, overlapping chunks that are
// embedded and classified independently.
package chunker

import (
	"iter"
	"unicode"
)

const (
	DefaultChunkSize    = 3000
	DefaultChunkOverlap = 200
)

// separators are tried in order when looking for a place to end a chunk. A chunk
// ends immediately after the separator so no text is lost between chunks.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("? "),
	[]rune("! "),
	[]rune(" "),
}

// Chunk is a contiguous slice of the input. Start and End are rune offsets.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// Splitter produces chunks of at most Size runes, each starting roughly
// Size-Overlap runes after the previous one.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter returns a splitter. A non-positive size falls back to
// DefaultChunkSize; an overlap that is negative or not smaller than size is reduced
// so that every chunk advances.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{size: size, overlap: overlap}
}

// Size returns the maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the target overlap between consecutive chunks in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Chunks returns the ordered chunk sequence for text. The sequence can be ranged
// over any number of times and always yields the same chunks.
func (s *Splitter) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}

		start := 0
		for {
			if n-start <= s.size {
				yield(Chunk{Text: string(runes[start:n]), Start: start, End: n})
				return
			}

			// end must leave start+overlap behind so the next chunk advances.
			end := breakBefore(runes, start+s.overlap+1, start+s.size)
			if !yield(Chunk{Text: string(runes[start:end]), Start: start, End: end}) {
				return
			}
			start = wordStart(runes, end-s.overlap, end)
		}
	}
}

// Split collects Chunks into a slice.
func (s *Splitter) Split(text string) []Chunk {
	var out []Chunk
	for c := range s.Chunks(text) {
		out = append(out, c)
	}
	return out
}

// Texts returns only the chunk texts.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// Reassemble joins chunks back into the original text by dropping each chunk's
// overlap with its predecessor.
func Reassemble(chunks []Chunk) string {
	var out []rune
	prevEnd := 0
	for i, c := range chunks {
		r := []rune(c.Text)
		if i > 0 {
			r = r[prevEnd-c.Start:]
		}
		out = append(out, r...)
		prevEnd = c.End
	}
	return string(out)
}

// breakBefore returns the largest offset in [lo, hi] that directly follows a
// separator, preferring earlier separators in the list. It returns hi when no
// separator is found.
func breakBefore(runes []rune, lo, hi int) int {
	for _, sep := range separators {
		for i := hi; i >= lo && i >= len(sep); i-- {
			if hasSuffixAt(runes, i, sep) {
				return i
			}
		}
	}
	return hi
}

func hasSuffixAt(runes []rune, i int, sep []rune) bool {
	for k := range sep {
		if runes[i-len(sep)+k] != sep[k] {
			return false
		}
	}
	return true
}

// wordStart returns the first offset in [lo, hi) that begins a word, or lo when the
// window holds no word boundary.
func wordStart(runes []rune, lo, hi int) int {
	for i := lo; i < hi; i++ {
		if i == 0 || (unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i])) {
			return i
		}
	}
	return lo
}
