// Package compact implements the auto-compaction engine: dedup, error
// consolidation, and staleness pruning over a project's active facts.
//
// Compaction is non-destructive. Originals are deprecated, never deleted,
// so time travel and the ledger hash chain stay intact, and a second pass
// over compacted facts is a no-op.
package compact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/borjamoskv/cortex/internal/canonical"
	"github.com/borjamoskv/cortex/internal/debug"
	"github.com/borjamoskv/cortex/internal/storage/sqlite"
	"github.com/borjamoskv/cortex/internal/types"
)

// Strategy selects a compaction pass.
type Strategy string

const (
	Dedup          Strategy = "dedup"
	MergeErrors    Strategy = "merge_errors"
	StalenessPrune Strategy = "staleness_prune"
)

// AllStrategies in execution order.
func AllStrategies() []Strategy {
	return []Strategy{Dedup, MergeErrors, StalenessPrune}
}

// Config tunes a compaction run.
type Config struct {
	SimilarityThreshold float64 // near-duplicate cutoff, default 0.85
	MaxAgeDays          int     // staleness cutoff, default 90
	MinConsensus        float64 // staleness score bound, default 0.5
	DryRun              bool
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 90
	}
	if c.MinConsensus <= 0 {
		c.MinConsensus = 0.5
	}
	return c
}

// Result is the outcome of one compaction run.
type Result struct {
	Project           string   `json:"project"`
	StrategiesApplied []string `json:"strategies_applied"`
	OriginalCount     int64    `json:"original_count"`
	CompactedCount    int64    `json:"compacted_count"`
	DeprecatedIDs     []int64  `json:"deprecated_ids"`
	NewFactIDs        []int64  `json:"new_fact_ids"`
	DryRun            bool     `json:"dry_run"`
	Details           []string `json:"details"`
}

// Reduction is the net active-fact decrease.
func (r *Result) Reduction() int64 {
	return r.OriginalCount - r.CompactedCount
}

// Compactor runs strategies against one engine.
type Compactor struct {
	engine *sqlite.Engine
	config Config
}

// New creates a Compactor with the given tuning.
func New(engine *sqlite.Engine, config Config) *Compactor {
	return &Compactor{engine: engine, config: config.withDefaults()}
}

// Compact applies the selected strategies in order. A nil strategy list
// means all. With DryRun set, the plan is computed but nothing is mutated.
func (c *Compactor) Compact(ctx context.Context, project string, strategies []Strategy) (*Result, error) {
	if project == "" {
		return nil, fmt.Errorf("project cannot be empty")
	}
	if strategies == nil {
		strategies = AllStrategies()
	}

	before, err := c.engine.CountActiveFacts(ctx, project)
	if err != nil {
		return nil, err
	}
	result := &Result{Project: project, OriginalCount: before, DryRun: c.config.DryRun}

	for _, s := range strategies {
		switch s {
		case Dedup:
			if err := c.runDedup(ctx, project, result); err != nil {
				return nil, err
			}
		case MergeErrors:
			if err := c.runMergeErrors(ctx, project, result); err != nil {
				return nil, err
			}
		case StalenessPrune:
			if err := c.runStalenessPrune(ctx, project, result); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown compaction strategy %q", s)
		}
	}

	after, err := c.engine.CountActiveFacts(ctx, project)
	if err != nil {
		return nil, err
	}
	result.CompactedCount = after

	if !c.config.DryRun && len(result.DeprecatedIDs) > 0 {
		if err := c.engine.LogCompaction(ctx, sqlite.CompactionRecord{
			Project:       project,
			Strategies:    result.StrategiesApplied,
			DeprecatedIDs: result.DeprecatedIDs,
			NewFactIDs:    result.NewFactIDs,
			FactsBefore:   before,
			FactsAfter:    after,
		}); err != nil {
			return nil, err
		}
	}

	debug.Logf("cortex: compaction [%s] complete: %d -> %d facts (-%d)%s\n",
		project, before, after, result.Reduction(), dryRunSuffix(c.config.DryRun))
	return result, nil
}

func dryRunSuffix(dry bool) string {
	if dry {
		return " (dry-run)"
	}
	return ""
}

// runDedup is two-phase: exact groups by normalized content hash, then
// near-duplicate groups by Levenshtein ratio among facts of the same type.
// Each group keeps its oldest fact and deprecates the rest.
func (c *Compactor) runDedup(ctx context.Context, project string, result *Result) error {
	facts, err := c.engine.ActiveFacts(ctx, project)
	if err != nil {
		return err
	}
	groups := findDuplicateGroups(facts, c.config.SimilarityThreshold)
	if len(groups) == 0 {
		return nil
	}

	result.StrategiesApplied = append(result.StrategiesApplied, string(Dedup))
	totalRemoved := 0
	for _, group := range groups {
		canonicalID := group[0]
		for _, dupID := range group[1:] {
			totalRemoved++
			if c.config.DryRun {
				continue
			}
			reason := fmt.Sprintf("compacted:dedup->#%d", canonicalID)
			if _, err := c.engine.Deprecate(ctx, dupID, reason); err != nil {
				return fmt.Errorf("failed to deprecate duplicate %d: %w", dupID, err)
			}
			result.DeprecatedIDs = append(result.DeprecatedIDs, dupID)
		}
	}

	detail := fmt.Sprintf("dedup: %d groups, %d duplicates", len(groups), totalRemoved)
	result.Details = append(result.Details, detail)
	debug.Logf("cortex: compactor [%s] %s\n", project, detail)
	return nil
}

// findDuplicateGroups returns id groups (oldest first) of exact and near
// duplicates. Phase 2 only compares facts the hash phase left ungrouped,
// and only within the same fact type.
func findDuplicateGroups(facts []*types.Fact, threshold float64) [][]int64 {
	var groups [][]int64
	seen := make(map[int64]bool)

	byHash := make(map[string][]int64)
	var hashOrder []string
	for _, f := range facts {
		h := canonical.ContentHash(f.Content)
		if len(byHash[h]) == 0 {
			hashOrder = append(hashOrder, h)
		}
		byHash[h] = append(byHash[h], f.ID)
	}
	for _, h := range hashOrder {
		if ids := byHash[h]; len(ids) > 1 {
			groups = append(groups, ids)
			for _, id := range ids {
				seen[id] = true
			}
		}
	}

	var remaining []*types.Fact
	for _, f := range facts {
		if !seen[f.ID] {
			remaining = append(remaining, f)
		}
	}
	localSeen := make(map[int64]bool)
	for i, fi := range remaining {
		if localSeen[fi.ID] {
			continue
		}
		group := []int64{fi.ID}
		for _, fj := range remaining[i+1:] {
			if localSeen[fj.ID] || fi.FactType != fj.FactType {
				continue
			}
			if similarity(fi.Content, fj.Content) >= threshold {
				group = append(group, fj.ID)
				localSeen[fj.ID] = true
			}
		}
		if len(group) > 1 {
			localSeen[fi.ID] = true
			groups = append(groups, group)
		}
	}
	return groups
}

// similarity is the normalized Levenshtein ratio over normalized content.
func similarity(a, b string) float64 {
	na := canonical.NormalizeContent(a)
	nb := canonical.NormalizeContent(b)
	if na == nb {
		return 1.0
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(na, nb))/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// runMergeErrors consolidates groups of identical error facts into one new
// fact summarizing the occurrences, then deprecates the originals.
func (c *Compactor) runMergeErrors(ctx context.Context, project string, result *Result) error {
	facts, err := c.engine.ActiveFacts(ctx, project)
	if err != nil {
		return err
	}
	var errs []*types.Fact
	for _, f := range facts {
		if f.FactType == types.TypeError {
			errs = append(errs, f)
		}
	}
	if len(errs) <= 1 {
		return nil
	}

	byHash := make(map[string][]*types.Fact)
	var order []string
	for _, f := range errs {
		h := canonical.ContentHash(f.Content)
		if len(byHash[h]) == 0 {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], f)
	}

	mergedCount := 0
	groupCount := 0
	for _, h := range order {
		group := byHash[h]
		if len(group) <= 1 {
			continue
		}
		groupCount++
		mergedCount += len(group)
		if c.config.DryRun {
			continue
		}
		if err := c.mergeErrorGroup(ctx, project, group, result); err != nil {
			return err
		}
	}
	if groupCount == 0 {
		return nil
	}

	result.StrategiesApplied = append(result.StrategiesApplied, string(MergeErrors))
	detail := fmt.Sprintf("merge_errors: consolidated %d -> %d error facts", mergedCount, groupCount)
	result.Details = append(result.Details, detail)
	debug.Logf("cortex: compactor [%s] %s\n", project, detail)
	return nil
}

func (c *Compactor) mergeErrorGroup(ctx context.Context, project string, group []*types.Fact, result *Result) error {
	contents := make([]string, len(group))
	for i, f := range group {
		contents[i] = f.Content
	}
	oldest := group[0]

	newID, err := c.engine.Store(ctx, sqlite.StoreRequest{
		Project:    project,
		Content:    mergeErrorContents(contents),
		FactType:   types.TypeError,
		Tags:       oldest.Tags,
		Confidence: oldest.Confidence,
		Source:     "compactor:merge_errors",
	})
	if err != nil {
		return fmt.Errorf("failed to store consolidated error: %w", err)
	}
	result.NewFactIDs = append(result.NewFactIDs, newID)

	for _, f := range group {
		reason := fmt.Sprintf("compacted:merge_errors->#%d", newID)
		if _, err := c.engine.Deprecate(ctx, f.ID, reason); err != nil {
			return fmt.Errorf("failed to deprecate merged error %d: %w", f.ID, err)
		}
		result.DeprecatedIDs = append(result.DeprecatedIDs, f.ID)
	}
	return nil
}

// mergeErrorContents summarizes a group of error messages: identical
// messages collapse to "(occurred N×)", mixed groups join the first five
// unique messages.
func mergeErrorContents(contents []string) string {
	var unique []string
	seen := make(map[string]bool)
	for _, c := range contents {
		if !seen[c] {
			seen[c] = true
			unique = append(unique, c)
		}
	}
	if len(unique) == 1 {
		return fmt.Sprintf("%s (occurred %d×)", unique[0], len(contents))
	}
	limit := len(unique)
	if limit > 5 {
		limit = 5
	}
	parts := make([]string, 0, limit)
	for _, msg := range unique[:limit] {
		if len(msg) > 200 {
			msg = msg[:200]
		}
		parts = append(parts, msg)
	}
	return fmt.Sprintf("[Consolidated %d errors] %s", len(contents), strings.Join(parts, " | "))
}

// runStalenessPrune deprecates active facts older than MaxAgeDays whose
// consensus score sits below MinConsensus. Facts at the neutral 1.0 default
// are never touched under the default bound.
func (c *Compactor) runStalenessPrune(ctx context.Context, project string, result *Result) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.config.MaxAgeDays).Format(time.RFC3339Nano)
	staleIDs, err := c.engine.StaleFactIDs(ctx, project, cutoff, c.config.MinConsensus)
	if err != nil {
		return err
	}
	if len(staleIDs) == 0 {
		return nil
	}

	result.StrategiesApplied = append(result.StrategiesApplied, string(StalenessPrune))
	if !c.config.DryRun {
		for _, id := range staleIDs {
			if _, err := c.engine.Deprecate(ctx, id, "compacted:stale"); err != nil {
				return fmt.Errorf("failed to prune stale fact %d: %w", id, err)
			}
			result.DeprecatedIDs = append(result.DeprecatedIDs, id)
		}
	}

	detail := fmt.Sprintf("staleness_prune: %d stale facts", len(staleIDs))
	result.Details = append(result.Details, detail)
	debug.Logf("cortex: compactor [%s] %s\n", project, detail)
	return nil
}

// SessionContext renders a project's strongest active facts as a compact
// markdown digest, grouped by type in priority order.
func (c *Compactor) SessionContext(ctx context.Context, project string, maxFacts int) (string, error) {
	if maxFacts <= 0 {
		maxFacts = 50
	}
	facts, err := c.engine.Recall(ctx, project, maxFacts, 0)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return fmt.Sprintf("# %s\n\nNo active facts.\n", project), nil
	}

	typeOrder := []types.FactType{
		types.TypeAxiom, types.TypeDecision, types.TypeRule,
		types.TypeError, types.TypeKnowledge, types.TypeGhost, types.TypeSchema,
	}
	byType := make(map[types.FactType][]*types.Fact)
	for _, f := range facts {
		byType[f.FactType] = append(byType[f.FactType], f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", project)
	appendSection := func(ft types.FactType, group []*types.Fact) {
		fmt.Fprintf(&b, "## %s (%d)\n\n", capitalize(string(ft)), len(group))
		for _, f := range group {
			content := f.Content
			if len(content) > 200 {
				content = content[:200]
			}
			fmt.Fprintf(&b, "- %s\n", content)
		}
		b.WriteString("\n")
	}
	for _, ft := range typeOrder {
		if group, ok := byType[ft]; ok {
			appendSection(ft, group)
			delete(byType, ft)
		}
	}
	for ft, group := range byType {
		appendSection(ft, group)
	}
	return b.String(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
