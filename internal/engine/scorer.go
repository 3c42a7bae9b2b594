// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import (
	"math"
	"sort"
)

// ScoreCandidates converts the association graph into ranked candidate
// scores for the anchor set.
//
// For each candidate b co-occurring with an anchor a:
//
//	confidence = co[a][b] / appearances[a]
//	prob_b     = appearances[b] / total_mass
//	lift       = confidence / prob_b          (0 when prob_b is 0)
//	lift_norm  = min(lift, LiftCap) / LiftCap
//	pop_norm   = min(1, appearances[b] / (total_mass * PopularityBand))
//	base       = LiftWeight*lift_norm + PopularityWeight*pop_norm
//
// A candidate keeps the maximum base score across all anchors it co-occurs
// with (not a sum); ties go to the higher raw lift. Anchors never score
// themselves. Candidates whose arithmetic degenerates to NaN are dropped
// rather than propagated into ranking.
//
// The returned slice is sorted descending by base score with a stable
// insertion-order tiebreak, so identical inputs always rank identically.
func ScoreCandidates(g AssociationGraph, anchors []string, cfg ScoringConfig) []CandidateScore {
	if g.Empty() || g.TotalMass <= 0 {
		return nil
	}

	anchorSet := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		anchorSet[a] = struct{}{}
	}

	best := make(map[string]*CandidateScore)
	order := make([]string, 0, 16)

	for _, anchor := range anchors {
		wa := g.Appearances[anchor]
		if wa <= 0 {
			continue
		}
		for _, b := range g.CooccurringWith(anchor) {
			if _, isAnchor := anchorSet[b]; isAnchor {
				continue
			}

			confidence := g.Cooccurrence[anchor][b] / wa
			probB := g.Appearances[b] / g.TotalMass

			var lift float64
			if probB > 0 {
				lift = confidence / probB
			}

			liftNorm := math.Min(lift, cfg.LiftCap) / cfg.LiftCap
			popNorm := math.Min(1, g.Appearances[b]/(g.TotalMass*cfg.PopularityBand))
			base := cfg.LiftWeight*liftNorm + cfg.PopularityWeight*popNorm

			base = clamp01(base)
			if math.IsNaN(base) || math.IsNaN(lift) {
				continue
			}

			existing, ok := best[b]
			if !ok {
				sc := &CandidateScore{
					ProductID:     b,
					Base:          base,
					Lift:          lift,
					CTRMultiplier: 1,
					Final:         base,
					rank:          len(order),
				}
				best[b] = sc
				order = append(order, b)
				continue
			}
			if base > existing.Base || (base == existing.Base && lift > existing.Lift) {
				existing.Base = base
				existing.Lift = lift
				existing.Final = base
			}
		}
	}

	scores := make([]CandidateScore, 0, len(order))
	for _, id := range order {
		scores = append(scores, *best[id])
	}
	sortScores(scores)
	return scores
}

// ApplyCTR re-ranks scores using trailing-window click data with Laplace
// smoothing:
//
//	ctr        = (clicks + alpha) / (impressions + beta)
//	multiplier = clamp(1 + slope*(ctr - baseline), min, max)
//
// Products with no tracking data default to the baseline CTR, yielding a
// neutral multiplier of 1.
func ApplyCTR(scores []CandidateScore, counts map[string]TrackingCounts, cfg ScoringConfig) {
	for i := range scores {
		ctr := cfg.CTRBaseline
		if c, ok := counts[scores[i].ProductID]; ok && c.Impressions+int64(cfg.CTRBeta) > 0 {
			ctr = (float64(c.Clicks) + cfg.CTRAlpha) / (float64(c.Impressions) + cfg.CTRBeta)
		}

		mult := 1 + cfg.CTRSlope*(ctr-cfg.CTRBaseline)
		if math.IsNaN(mult) {
			mult = 1
		}
		mult = math.Max(cfg.CTRMinMultiplier, math.Min(cfg.CTRMaxMultiplier, mult))

		scores[i].CTRMultiplier = mult
		scores[i].Final = scores[i].Base * mult
	}
	sortScores(scores)
}

// ApplyPerformance folds learning-job output into the ranking: blacklisted
// products are dropped outright, high-confidence products are boosted and
// low-confidence products suppressed. Products without a record pass
// through unchanged; learning output may be up to a day stale and that is
// acceptable.
func ApplyPerformance(scores []CandidateScore, perf map[string]PerformanceRecord, cfg ScoringConfig) []CandidateScore {
	kept := scores[:0]
	for _, sc := range scores {
		rec, ok := perf[sc.ProductID]
		if !ok {
			kept = append(kept, sc)
			continue
		}
		if rec.IsBlacklisted {
			continue
		}
		switch {
		case rec.Confidence > cfg.HighConfidence:
			sc.Final *= cfg.ConfidenceBoost
		case rec.Confidence < cfg.LowConfidence:
			sc.Final *= cfg.ConfidencePenalty
		}
		if math.IsNaN(sc.Final) || sc.Final < 0 {
			continue
		}
		kept = append(kept, sc)
	}
	sortScores(kept)
	return kept
}

// sortScores orders descending by final score, stable on insertion order.
func sortScores(scores []CandidateScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Final > scores[j].Final
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
