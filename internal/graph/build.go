package graph

import (
	"context"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/pyrelate/internal/model"
)

// Options configures BuildGraph.
type Options struct {
	// Workers bounds concurrent resolution. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Graph is the merged resolver output for a whole snapshot.
type Graph struct {
	// Relationships are unique and sorted by consumer, then producer.
	Relationships []model.Relationship
	// Diagnostics are in snapshot order of their consumers.
	Diagnostics []Diagnostic
}

// BuildGraph resolves every analyzed file of snap concurrently. The
// snapshot is shared read-only between workers. Only context cancellation
// returns an error.
func BuildGraph(ctx context.Context, snap *model.Snapshot, opts Options) (*Graph, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	r := NewResolver(opts.Logger)
	idx := newIndex(snap)

	var consumers []*model.SourceFile
	for _, f := range snap.Files() {
		if f.Facts != nil && len(f.Facts.Imports) > 0 {
			consumers = append(consumers, f)
		}
	}

	results := make([]Result, len(consumers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range consumers {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.resolve(idx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return merge(results), nil
}

func merge(results []Result) *Graph {
	type key struct{ consumer, producer string }
	seen := make(map[key]struct{})
	out := &Graph{}
	for _, res := range results {
		for _, rel := range res.Relationships {
			if rel.Consumer == rel.Producer {
				continue
			}
			k := key{rel.Consumer, rel.Producer}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out.Relationships = append(out.Relationships, rel)
		}
		out.Diagnostics = append(out.Diagnostics, res.Diagnostics...)
	}
	sort.Slice(out.Relationships, func(i, j int) bool {
		a, b := out.Relationships[i], out.Relationships[j]
		if a.Consumer != b.Consumer {
			return a.Consumer < b.Consumer
		}
		return a.Producer < b.Producer
	})
	return out
}
