// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package engine

import "sort"

// secondarySignal describes which tier a personalization mode blends with
// the statistical candidates, and at what weight.
type secondarySignal struct {
	tier   SourceTier
	weight float64
}

// modeSignals maps personalization modes to their secondary signal. The
// statistical tier is always the fallback floor: a mode with an empty
// secondary tier degrades to pure statistical output.
var modeSignals = map[PersonalizationMode]secondarySignal{
	ModeAIFirst:  {tier: TierSimilar, weight: 0.7},
	ModePopular:  {tier: TierTrending, weight: 0.6},
	ModeBalanced: {tier: TierTrending, weight: 0.4},
	ModeBasic:    {},
}

// BlendInput carries the tier results and policy flags for one blend pass.
// All tiers arrive already guardrail-filtered.
type BlendInput struct {
	// Limit is the normalized result limit.
	Limit int

	// Anchors are excluded from the output.
	Anchors []string

	// Mode is the effective personalization mode (experiment override
	// already resolved). When the manual list fills the whole quota the
	// mode has no remaining slots to influence.
	Mode PersonalizationMode

	// ColdStart switches to the trending/statistical slot mix.
	ColdStart bool

	// TrendingRatio is the cold-start share of remaining slots given to
	// trending products.
	TrendingRatio float64

	// ProximityTargetCents, when > 0, re-sorts the final combined list by
	// price proximity to the remaining need-amount gap (smart threshold
	// mode).
	ProximityTargetCents int64

	// Manual, Statistical, Secondary, Trending are the tier results.
	// Secondary holds the mode's secondary signal candidates (similar or
	// trending, depending on mode).
	Manual      TierResult
	Statistical TierResult
	Secondary   TierResult
	Trending    TierResult
}

// Blend merges the source tiers into the final bounded candidate list.
//
// Priority order: manual first, then (cold start) a trending/statistical
// slot mix, or (normal) the statistical tier score-blended with the mode's
// secondary signal. Output is de-duplicated by product id, holds at most
// one product per diversity key, never contains an anchor, and never
// exceeds the limit. A diversity key is only consumed by an accepted
// candidate, so a rejected or out-ranked product from one tier never
// blocks a same-key product from another. Products without a handle are
// exempt from the diversity collapse. Within the list, candidates are
// ordered priority-tier first, then descending score within tier, except
// when a proximity target requests a final closest-to-threshold re-sort
// across the whole combined list.
//
// Blend is a pure function over its input; it performs no I/O.
func Blend(in BlendInput) []Candidate {
	seen := make(map[string]struct{}, in.Limit+len(in.Anchors))
	for _, a := range in.Anchors {
		seen[a] = struct{}{}
	}
	usedKeys := make(map[string]struct{}, in.Limit)

	out := make([]Candidate, 0, in.Limit)
	appendUnique := func(cands []Candidate, max int) int {
		added := 0
		for _, c := range cands {
			if len(out) >= in.Limit || added >= max {
				break
			}
			if _, dup := seen[c.Product.ID]; dup {
				continue
			}
			key := c.Product.DiversityKey()
			if key != "" {
				if _, used := usedKeys[key]; used {
					continue
				}
				usedKeys[key] = struct{}{}
			}
			seen[c.Product.ID] = struct{}{}
			out = append(out, c)
			added++
		}
		return added
	}

	// Tier 1: operator-curated manual list, honored first up to the limit.
	appendUnique(in.Manual.Candidates, in.Limit)

	remaining := in.Limit - len(out)
	if remaining > 0 {
		if in.ColdStart {
			// Statistical signal is unreliable with little data: fill
			// remaining slots mostly from trending, topped up with whatever
			// statistical candidates exist, backfilling either way.
			trendQuota := int(float64(remaining)*in.TrendingRatio + 0.5)
			if trendQuota > remaining {
				trendQuota = remaining
			}
			appendUnique(in.Trending.Candidates, trendQuota)
			appendUnique(in.Statistical.Candidates, remaining)
			appendUnique(in.Trending.Candidates, remaining)
		} else {
			merged := mergeSecondary(in.Statistical.Candidates, in.Secondary.Candidates, in.Mode)
			appendUnique(merged, remaining)
		}
	}

	if in.ProximityTargetCents > 0 {
		sortByProximity(out, in.ProximityTargetCents)
	}
	return out
}

// mergeSecondary score-blends the statistical tier with the mode's
// secondary signal: blended = (1-w)*statistical + w*secondary, with a
// missing side contributing zero. With no secondary candidates the
// statistical list passes through untouched.
func mergeSecondary(statistical, secondary []Candidate, mode PersonalizationMode) []Candidate {
	sig := modeSignals[mode]
	if sig.weight == 0 || len(secondary) == 0 {
		return statistical
	}

	// Secondary tiers carry rank order, not scores; convert position to a
	// descending [0, 1] score so blending is meaningful.
	secScore := make(map[string]float64, len(secondary))
	byID := make(map[string]Candidate, len(statistical)+len(secondary))
	order := make([]string, 0, len(statistical)+len(secondary))

	for i, c := range secondary {
		secScore[c.Product.ID] = 1 - float64(i)/float64(len(secondary))
	}
	for _, c := range statistical {
		byID[c.Product.ID] = c
		order = append(order, c.Product.ID)
	}
	for _, c := range secondary {
		if _, ok := byID[c.Product.ID]; !ok {
			byID[c.Product.ID] = c
			order = append(order, c.Product.ID)
		}
	}

	merged := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		var stat float64
		if c.Tier == TierStatistical {
			stat = c.Score
		}
		c.Score = (1-sig.weight)*stat + sig.weight*secScore[id]
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// sortByProximity re-sorts the combined list by absolute price distance to
// the need-amount target, closest first. Stable so equal distances keep
// their tier order.
func sortByProximity(cands []Candidate, targetCents int64) {
	dist := func(c Candidate) int64 {
		d := c.Product.PriceCents - targetCents
		if d < 0 {
			return -d
		}
		return d
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return dist(cands[i]) < dist(cands[j])
	})
}
