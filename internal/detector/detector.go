// Package detector finds anomalies between a new transcript and an existing one.
//
// Detection is a two-stage filter: both texts are chunked and embedded, chunk
// pairs whose cosine similarity clears the threshold become candidates, and only
// candidates are sent to the (expensive) anomaly classifier.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/scribe/internal/chunker"
	"github.com/MikeSquared-Agency/scribe/internal/knowledge"
	"github.com/MikeSquared-Agency/scribe/internal/similarity"
)

const DefaultWorkers = 4

// Embedder maps chunk texts to vectors, one batch per call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Classifier reports the anomalies between two chunks.
type Classifier interface {
	Classify(ctx context.Context, newChunk, existingChunk string) ([]knowledge.Finding, error)
}

type Options struct {
	Splitter  *chunker.Splitter
	Threshold float64
	Workers   int
}

type Detector struct {
	embedder   Embedder
	classifier Classifier
	splitter   *chunker.Splitter
	threshold  float64
	workers    int
	logger     *slog.Logger
}

func New(embedder Embedder, classifier Classifier, opts Options, logger *slog.Logger) *Detector {
	if opts.Splitter == nil {
		opts.Splitter = chunker.NewSplitter(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
	}
	if opts.Threshold == 0 {
		opts.Threshold = similarity.DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Detector{
		embedder:   embedder,
		classifier: classifier,
		splitter:   opts.Splitter,
		threshold:  opts.Threshold,
		workers:    opts.Workers,
		logger:     logger,
	}
}

// Result is the outcome of one detection run.
type Result struct {
	Findings []knowledge.Finding
	// Candidates is the number of chunk pairs that cleared the similarity threshold.
	Candidates int
	// FailedPairs is the number of candidates whose classification failed and
	// therefore contributed nothing.
	FailedPairs int
	// NonVerbatim is the number of findings whose snippets do not occur verbatim
	// in their chunks. They are kept, but resolving them will report a stale
	// snippet.
	NonVerbatim int
}

// Detect compares newText against existingText. A failing classifier call only
// drops that pair; a failing split or embed aborts the run with an error, which
// callers must not read as "no conflicts".
func (d *Detector) Detect(ctx context.Context, newText, existingText string) (*Result, error) {
	if newText == existingText {
		return &Result{}, nil
	}

	chunksA := chunker.Texts(d.splitter.Split(newText))
	chunksB := chunker.Texts(d.splitter.Split(existingText))
	if len(chunksA) == 0 || len(chunksB) == 0 {
		return &Result{}, nil
	}

	var embA, embB [][]float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := d.embed(gctx, chunksA)
		embA = v
		return err
	})
	g.Go(func() error {
		v, err := d.embed(gctx, chunksB)
		embB = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pairs := similarity.Match(embA, embB, d.threshold)
	d.logger.Debug("candidate pairs selected",
		"chunks_new", len(chunksA),
		"chunks_existing", len(chunksB),
		"pairs", len(pairs),
	)

	// One slot per pair keeps the output in pair order regardless of which worker
	// finishes first.
	slots := make([][]knowledge.Finding, len(pairs))
	failed := make([]bool, len(pairs))

	var pool errgroup.Group
	pool.SetLimit(d.workers)
	for k, p := range pairs {
		pool.Go(func() error {
			findings, err := d.classifier.Classify(ctx, chunksA[p.I], chunksB[p.J])
			if err != nil {
				d.logger.Warn("pair classification failed",
					"new_chunk", p.I,
					"existing_chunk", p.J,
					"error", err,
				)
				failed[k] = true
				return nil
			}
			slots[k] = findings
			return nil
		})
	}
	pool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	res := &Result{Candidates: len(pairs)}
	for k, p := range pairs {
		if failed[k] {
			res.FailedPairs++
			continue
		}
		for _, f := range slots[k] {
			if !strings.Contains(chunksA[p.I], f.NewSnippet) || !strings.Contains(chunksB[p.J], f.ExistingSnippet) {
				d.logger.Warn("finding snippet is not verbatim",
					"new_chunk", p.I,
					"existing_chunk", p.J,
					"anomaly", f.Anomaly,
				)
				res.NonVerbatim++
			}
		}
		res.Findings = append(res.Findings, slots[k]...)
	}
	return res, nil
}

func (d *Detector) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	vecs, err := d.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: expected %d vectors, got %d", len(chunks), len(vecs))
	}
	return vecs, nil
}

// Normalize collapses runs of whitespace so texts differing only in layout compare
// equal.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
