// Package ranking orders inventory files by how widely they are used and
// narrows a resolved graph to the files a caller cares about.
package ranking

import (
	"sort"
	"strings"

	"github.com/phobologic/pyrelate/internal/graph"
	"github.com/phobologic/pyrelate/internal/model"
)

// FileRank summarizes one file's position in the graph.
type FileRank struct {
	File *model.SourceFile
	// UsedBy counts distinct consumers of the file.
	UsedBy int
	// Uses counts distinct producers the file depends on.
	Uses int
}

// Rank returns every file of snap, most used first. Ties keep snapshot
// order, so the result is deterministic.
func Rank(snap *model.Snapshot, rels []model.Relationship) []FileRank {
	usedBy := make(map[string]int)
	uses := make(map[string]int)
	for _, r := range rels {
		usedBy[r.Producer]++
		uses[r.Consumer]++
	}

	ranks := make([]FileRank, 0, snap.Len())
	for _, f := range snap.Files() {
		ranks = append(ranks, FileRank{File: f, UsedBy: usedBy[f.ID], Uses: uses[f.ID]})
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		return ranks[i].UsedBy > ranks[j].UsedBy
	})
	return ranks
}

// FilterByFile returns a new Graph holding only the relationships and
// diagnostics that touch a file with an install path containing substr
// (case-insensitive).
func FilterByFile(snap *model.Snapshot, g *graph.Graph, substr string) *graph.Graph {
	lower := strings.ToLower(substr)

	matched := make(map[string]struct{})
	for _, f := range snap.Files() {
		for _, p := range f.InstallPaths {
			if strings.Contains(strings.ToLower(p), lower) {
				matched[f.ID] = struct{}{}
				break
			}
		}
	}

	out := &graph.Graph{}
	for _, r := range g.Relationships {
		_, consumerOK := matched[r.Consumer]
		_, producerOK := matched[r.Producer]
		if consumerOK || producerOK {
			out.Relationships = append(out.Relationships, r)
		}
	}
	for _, d := range g.Diagnostics {
		if _, ok := matched[d.Consumer]; ok {
			out.Diagnostics = append(out.Diagnostics, d)
		}
	}
	return out
}
