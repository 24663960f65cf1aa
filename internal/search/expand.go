package search

import (
	"fmt"
	"sort"
	"strings"
)

// Span is an expanded context window around one or more hits in a document:
// the hit chunks plus their siblings within the expansion radius, spliced
// into one text block.
type Span struct {
	DocumentID   string
	StartOrdinal int
	EndOrdinal   int
	Text         string
	ChunkIDs     []string // chunks covered, in ordinal order
	HitIDs       []string // the original hits inside this span
}

// Covers reports whether the span covers the given ordinal range.
func (s *Span) Covers(lo, hi int) bool {
	return s.StartOrdinal <= lo && hi <= s.EndOrdinal
}

// Expand fetches sibling chunks within the configured ordinal radius around
// each candidate. With MergeSpans set, overlapping or adjacent ranges in the
// same document are merged into one contiguous span (adjacency-merge policy);
// otherwise each hit keeps its own fixed-radius span, dropping spans whose
// range an earlier-ranked span already covers.
func (e *Engine) Expand(candidates []Candidate) ([]Span, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := e.DB.GetChunks(ids)
	if err != nil {
		return nil, fmt.Errorf("expand: fetch hits: %w", err)
	}

	byID := make(map[string]hitRange, len(chunks))
	for _, c := range chunks {
		lo := c.Ordinal - e.Config.ExpandRadius
		if lo < 0 {
			lo = 0
		}
		byID[c.ID] = hitRange{
			docID: c.DocumentID,
			hitID: c.ID,
			lo:    lo,
			hi:    c.Ordinal + e.Config.ExpandRadius,
		}
	}

	// Preserve candidate rank order.
	var ranges []hitRange
	for _, c := range candidates {
		if r, ok := byID[c.ChunkID]; ok {
			ranges = append(ranges, r)
		}
	}

	var spans []Span
	if e.Config.MergeSpans {
		spans = mergeRanges(ranges)
	} else {
		for _, r := range ranges {
			covered := false
			for i := range spans {
				if spans[i].DocumentID == r.docID && spans[i].Covers(r.lo, r.hi) {
					spans[i].HitIDs = append(spans[i].HitIDs, r.hitID)
					covered = true
					break
				}
			}
			if covered {
				continue
			}
			spans = append(spans, Span{
				DocumentID:   r.docID,
				StartOrdinal: r.lo,
				EndOrdinal:   r.hi,
				HitIDs:       []string{r.hitID},
			})
		}
	}

	for i := range spans {
		if err := e.fillSpan(&spans[i]); err != nil {
			return nil, err
		}
	}
	return spans, nil
}

type hitRange struct {
	docID  string
	hitID  string
	lo, hi int
}

// mergeRanges unions overlapping or adjacent ranges per document. The merged
// span takes the rank of its best contributing hit (earliest in input order).
func mergeRanges(ranges []hitRange) []Span {
	var spans []Span
	for _, r := range ranges {
		merged := false
		for i := range spans {
			s := &spans[i]
			if s.DocumentID != r.docID {
				continue
			}
			// Overlapping or directly adjacent ordinal ranges collapse.
			if r.lo <= s.EndOrdinal+1 && s.StartOrdinal <= r.hi+1 {
				if r.lo < s.StartOrdinal {
					s.StartOrdinal = r.lo
				}
				if r.hi > s.EndOrdinal {
					s.EndOrdinal = r.hi
				}
				s.HitIDs = append(s.HitIDs, r.hitID)
				merged = true
				break
			}
		}
		if !merged {
			spans = append(spans, Span{
				DocumentID:   r.docID,
				StartOrdinal: r.lo,
				EndOrdinal:   r.hi,
				HitIDs:       []string{r.hitID},
			})
		}
	}

	// A later merge can bridge two spans of the same document; fold until
	// stable. Input sizes are k-scale, so the quadratic pass is fine.
	for {
		folded := false
		for i := 0; i < len(spans) && !folded; i++ {
			for j := i + 1; j < len(spans); j++ {
				a, b := &spans[i], &spans[j]
				if a.DocumentID != b.DocumentID {
					continue
				}
				if b.StartOrdinal <= a.EndOrdinal+1 && a.StartOrdinal <= b.EndOrdinal+1 {
					if b.StartOrdinal < a.StartOrdinal {
						a.StartOrdinal = b.StartOrdinal
					}
					if b.EndOrdinal > a.EndOrdinal {
						a.EndOrdinal = b.EndOrdinal
					}
					a.HitIDs = append(a.HitIDs, b.HitIDs...)
					spans = append(spans[:j], spans[j+1:]...)
					folded = true
					break
				}
			}
		}
		if !folded {
			return spans
		}
	}
}

// fillSpan loads the covered chunks and splices their text in ordinal order.
func (e *Engine) fillSpan(s *Span) error {
	chunks, err := e.DB.SiblingChunks(s.DocumentID, s.StartOrdinal, s.EndOrdinal)
	if err != nil {
		return fmt.Errorf("expand: siblings for %s: %w", s.DocumentID, err)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })

	var parts []string
	for _, c := range chunks {
		parts = append(parts, c.Text)
		s.ChunkIDs = append(s.ChunkIDs, c.ID)
	}
	s.Text = strings.Join(parts, "\n")

	// Clamp the recorded range to what actually exists in the document.
	if len(chunks) > 0 {
		s.StartOrdinal = chunks[0].Ordinal
		s.EndOrdinal = chunks[len(chunks)-1].Ordinal
	}
	return nil
}
