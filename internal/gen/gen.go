// ABOUTME: Exhaustive two-phase deck enumeration with filters and a resumable iterator
// ABOUTME: Character-distribution phase then card-selection phase, mirroring DeckGen2.py's shape

// Package gen enumerates candidate six-card decks for a song: a character
// distribution phase (how many of each character), a card selection phase
// (which of that character's cards), then per-deck filtering, per-deck
// permutation, and center-card expansion. Count and Iterator share the same
// filter/permutation helpers so a pre-computed total always agrees with
// what iteration actually yields.
package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"deckminer/internal/catalog"
	"deckminer/internal/langid"
)

// Task is one simulation unit: an ordered six-card deck and which position
// (if any) is pinned as center. CenterIndex is -1 when no center character
// was requested or none of the six cards match it — the simulator then
// auto-selects (see internal/sim's selectCenterIndex).
type Task struct {
	CardIDs     []int
	CenterIndex int
}

// Filters narrows the enumeration: membership, conflict, and skill-tag
// requirements evaluated once per unordered deck, before permutation.
type Filters struct {
	MustAllCards        []int
	MustAnyCards        []int
	RequiredSkillTags   []string
	CenterCharacterID   int
	ForceDR             bool
	ForbiddenCardRules  map[int][]int
	PreviouslySimulated map[string]bool
}

// CardTag is the per-card classification used by the skill-tag filter and
// the position-0/position-5 permutation rules: the set of effect types its
// bound skill carries, plus its rarity (for the DR-count check).
type CardTag struct {
	EffectTypes map[langid.EffectType]bool
	Rarity      catalog.Rarity
}

// finalSkillLevel is the level DB_TAG reads from: the reference system
// always classifies a card by its last evolution stage's skill at level 14,
// regardless of the level the deck is actually played at.
const finalSkillLevel = 14

// tagNameToEffectType maps the RequiredSkillTags config strings to the
// parsed effect type they name.
var tagNameToEffectType = map[string]langid.EffectType{
	"ap_change":              langid.EffectAPChange,
	"score_gain":             langid.EffectScoreGain,
	"voltage_point_change":   langid.EffectVoltagePointChange,
	"mental_rate_change":     langid.EffectMentalRateChange,
	"deck_reset":             langid.EffectDeckReset,
	"card_except":            langid.EffectCardExcept,
	"next_score_gain_rate":   langid.EffectNextScoreGainRate,
	"next_voltage_gain_rate": langid.EffectNextVoltageGainRate,
}

// computeCardTag classifies one card by its last-evolution-stage skill at
// level 14. A card with no skill bound at that level still contributes its
// rarity — only its effect-type set is empty.
func computeCardTag(cat *catalog.Catalog, cache *langid.Cache, cardSeriesID int) (CardTag, bool) {
	card, ok := cat.Card(cardSeriesID)
	if !ok {
		return CardTag{}, false
	}

	tag := CardTag{EffectTypes: map[langid.EffectType]bool{}, Rarity: card.Rarity}

	skillSeriesID := card.RhythmGameSkillSeriesID[len(card.RhythmGameSkillSeriesID)-1]
	skill, ok := cat.Skill(skillSeriesID, finalSkillLevel)
	if !ok {
		return tag, true
	}

	for _, effID := range skill.Effects {
		eff, err := cache.Effect(effID)
		if err != nil {
			continue
		}

		tag.EffectTypes[eff.Type] = true
	}

	return tag, true
}

// DeckKey is the dedup/resumption key: card ids sorted ascending and
// joined, matching load_simulated_decks's sorted-tuple convention.
func DeckKey(cardIDs []int) string {
	sorted := append([]int(nil), cardIDs...)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}

	return strings.Join(parts, "-")
}

type simulatedRecord struct {
	DeckCardIDs []int `json:"deck_card_ids"`
}

// LoadPreviouslySimulated reads a prior run's output file and returns the
// set of deck keys it already covers, for incremental-run resumption. A
// missing file is not an error — it just means nothing has run yet.
func LoadPreviouslySimulated(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}

		return nil, fmt.Errorf("gen: read %s: %w", path, err)
	}

	var records []simulatedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("gen: parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[DeckKey(r.DeckCardIDs)] = true
	}

	return seen, nil
}

// combinations returns every k-element subset of items, preserving items'
// relative order within each subset. combinations(items, 0) yields a single
// empty subset.
func combinations[T any](items []T, k int) [][]T {
	n := len(items)
	if k < 0 || k > n {
		return nil
	}

	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}

	var out [][]T
	for {
		combo := make([]T, k)
		for i, ix := range idx {
			combo[i] = items[ix]
		}
		out = append(out, combo)

		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}

		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}

	return out
}

// GenerateRoleDistributions builds every valid 6-slot character multiset.
// In double-allowed mode, 0 to 3 characters may appear twice, with the
// remaining slots distinct singles; in single-only mode all six are
// distinct. Each returned distribution is sorted ascending.
func GenerateRoleDistributions(characters []int, allowDouble bool) [][]int {
	sorted := append([]int(nil), characters...)
	sort.Ints(sorted)

	if !allowDouble {
		return combinations(sorted, 6)
	}

	seen := map[string]bool{}
	var out [][]int

	for doubleCount := 0; doubleCount <= 3; doubleCount++ {
		singleCount := 6 - 2*doubleCount

		for _, doubles := range combinations(sorted, doubleCount) {
			doubleSet := map[int]bool{}
			for _, d := range doubles {
				doubleSet[d] = true
			}

			remaining := make([]int, 0, len(sorted))
			for _, c := range sorted {
				if !doubleSet[c] {
					remaining = append(remaining, c)
				}
			}

			for _, singles := range combinations(remaining, singleCount) {
				dist := make([]int, 0, 6)
				dist = append(dist, doubles...)
				dist = append(dist, doubles...)
				dist = append(dist, singles...)
				sort.Ints(dist)

				key := fmt.Sprint(dist)
				if seen[key] {
					continue
				}
				seen[key] = true

				out = append(out, dist)
			}
		}
	}

	return out
}

// cartesianProduct flattens a list of per-character choice lists into every
// combined unordered deck, one element from each choice list.
func cartesianProduct(lists [][][]int) [][]int {
	result := [][]int{{}}

	for _, choices := range lists {
		next := make([][]int, 0, len(result)*len(choices))

		for _, prefix := range result {
			for _, choice := range choices {
				combo := make([]int, 0, len(prefix)+len(choice))
				combo = append(combo, prefix...)
				combo = append(combo, choice...)
				next = append(next, combo)
			}
		}

		result = next
	}

	return result
}

// buildDecksForDistribution expands one character distribution into every
// unordered six-card deck: each character with count 1 picks a single pool
// card, each with count 2 picks an unordered pair.
func buildDecksForDistribution(pool map[int][]int, dist []int) [][]int {
	counts := map[int]int{}
	for _, c := range dist {
		counts[c]++
	}

	chars := make([]int, 0, len(counts))
	for c := range counts {
		chars = append(chars, c)
	}
	sort.Ints(chars)

	choiceLists := make([][][]int, len(chars))
	for i, c := range chars {
		cardPool := pool[c]

		if counts[c] == 1 {
			choices := make([][]int, len(cardPool))
			for j, id := range cardPool {
				choices[j] = []int{id}
			}
			choiceLists[i] = choices
		} else {
			choiceLists[i] = combinations(cardPool, 2)
		}
	}

	return cartesianProduct(choiceLists)
}

// hasCardConflict reports whether any two cards in deck are a forbidden
// pair per rules (a symmetric-if-present relation, keyed by card_series_id).
func hasCardConflict(deck []int, rules map[int][]int) bool {
	for _, c := range deck {
		conflicts, ok := rules[c]
		if !ok {
			continue
		}

		for _, o := range deck {
			if o == c {
				continue
			}

			for _, x := range conflicts {
				if x == o {
					return true
				}
			}
		}
	}

	return false
}

func containsAll(deck, required []int) bool {
	set := map[int]bool{}
	for _, id := range deck {
		set[id] = true
	}

	for _, r := range required {
		if !set[r] {
			return false
		}
	}

	return true
}

func containsAny(deck, candidates []int) bool {
	set := map[int]bool{}
	for _, id := range deck {
		set[id] = true
	}

	for _, c := range candidates {
		if set[c] {
			return true
		}
	}

	return false
}

// permute visits every permutation of items via recursive in-place
// swap-and-restore on a copy of items.
func permute(items []int, visit func([]int)) {
	n := len(items)
	buf := append([]int(nil), items...)

	var rec func(k int)
	rec = func(k int) {
		if k == n {
			visit(buf)
			return
		}

		for i := k; i < n; i++ {
			buf[k], buf[i] = buf[i], buf[k]
			rec(k + 1)
			buf[k], buf[i] = buf[i], buf[k]
		}
	}

	rec(0)
}

// engine holds the read-only lookup data shared by Count and Iterator, so
// both apply identical filter/permutation logic.
type engine struct {
	cat      *catalog.Catalog
	pool     map[int][]int
	filters  Filters
	cardTags map[int]CardTag
}

func newEngine(cat *catalog.Catalog, cache *langid.Cache, pool map[int][]int, filters Filters) *engine {
	tags := map[int]CardTag{}

	for _, ids := range pool {
		for _, id := range ids {
			if _, ok := tags[id]; ok {
				continue
			}

			if tag, ok := computeCardTag(cat, cache, id); ok {
				tags[id] = tag
			}
		}
	}

	return &engine{cat: cat, pool: pool, filters: filters, cardTags: tags}
}

func (e *engine) passesFilter(deck []int) bool {
	if e.filters.PreviouslySimulated != nil && e.filters.PreviouslySimulated[DeckKey(deck)] {
		return false
	}

	if !containsAll(deck, e.filters.MustAllCards) {
		return false
	}

	if len(e.filters.MustAnyCards) > 0 && !containsAny(deck, e.filters.MustAnyCards) {
		return false
	}

	if hasCardConflict(deck, e.filters.ForbiddenCardRules) {
		return false
	}

	tags := map[langid.EffectType]bool{}
	drCount := 0

	for _, id := range deck {
		tag, ok := e.cardTags[id]
		if !ok {
			continue
		}

		for t := range tag.EffectTypes {
			tags[t] = true
		}

		if tag.Rarity == catalog.RarityDR {
			drCount++
		}
	}

	for _, tagName := range e.filters.RequiredSkillTags {
		t, ok := tagNameToEffectType[tagName]
		if !ok {
			continue
		}

		if !tags[t] {
			return false
		}
	}

	if drCount > 1 {
		return false
	}

	if e.filters.ForceDR && drCount < 1 {
		return false
	}

	if e.filters.CenterCharacterID != 0 {
		found := false
		for _, id := range deck {
			if card, ok := e.cat.Card(id); ok && card.CharacterID == e.filters.CenterCharacterID {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

func (e *engine) isScoreGainCard(id int) bool {
	tag, ok := e.cardTags[id]
	return ok && tag.EffectTypes[langid.EffectScoreGain]
}

func (e *engine) isDeckResetCard(id int) bool {
	tag, ok := e.cardTags[id]
	return ok && tag.EffectTypes[langid.EffectDeckReset]
}

// validPermutations enumerates every ordering of deck that satisfies the
// position-0-not-ScoreGain and position-5-not-DeckReset rules.
func (e *engine) validPermutations(deck []int) [][]int {
	var out [][]int

	permute(deck, func(p []int) {
		if e.isScoreGainCard(p[0]) {
			return
		}
		if e.isDeckResetCard(p[5]) {
			return
		}

		out = append(out, append([]int(nil), p...))
	})

	return out
}

// countCenterCards is the number of cards in deck matching the requested
// center character, defaulting to 1 when no center character was requested
// or none match.
func (e *engine) countCenterCards(deck []int) int {
	if e.filters.CenterCharacterID == 0 {
		return 1
	}

	count := 0
	for _, id := range deck {
		if card, ok := e.cat.Card(id); ok && card.CharacterID == e.filters.CenterCharacterID {
			count++
		}
	}

	if count == 0 {
		return 1
	}

	return count
}

// centerIndexFor returns the position of the cidx-th center-character card
// in this specific permutation, or -1 when no center character was
// requested (letting the simulator auto-select).
func (e *engine) centerIndexFor(perm []int, cidx int) int {
	if e.filters.CenterCharacterID == 0 {
		return -1
	}

	count := -1
	for i, id := range perm {
		if card, ok := e.cat.Card(id); ok && card.CharacterID == e.filters.CenterCharacterID {
			count++
			if count == cidx {
				return i
			}
		}
	}

	return -1
}

// Count computes the exact total task count using the same filter and
// permutation logic Iterator uses, so a pre-run size estimate always
// matches what iteration yields.
func Count(cat *catalog.Catalog, cache *langid.Cache, pool map[int][]int, characters []int, allowDouble bool, filters Filters) int {
	e := newEngine(cat, cache, pool, filters)
	distributions := GenerateRoleDistributions(characters, allowDouble)

	total := 0
	for _, dist := range distributions {
		for _, deck := range buildDecksForDistribution(pool, dist) {
			if !e.passesFilter(deck) {
				continue
			}

			perms := e.validPermutations(deck)
			if len(perms) == 0 {
				continue
			}

			total += len(perms) * e.countCenterCards(deck)
		}
	}

	return total
}

// Checkpoint is a resumable iterator position: distribution index, deck
// index within that distribution, permutation index within that deck, and
// center-slot index within that permutation.
type Checkpoint struct {
	DistributionIndex int
	DeckIndex         int
	PermIndex         int
	CenterIndex       int
}

// Iterator lazily walks every Task in distribution -> deck -> permutation
// -> center-slot order, resumable from a Checkpoint.
type Iterator struct {
	*engine
	distributions [][]int

	di, ci, pidx, cidx int
	centerCount        int
	decks              [][]int
	perms              [][]int
	resumed            bool
}

// NewIterator builds an Iterator over every character distribution and its
// expanded decks, ready to call Next from the beginning.
func NewIterator(cat *catalog.Catalog, cache *langid.Cache, pool map[int][]int, characters []int, allowDouble bool, filters Filters) *Iterator {
	return &Iterator{
		engine:        newEngine(cat, cache, pool, filters),
		distributions: GenerateRoleDistributions(characters, allowDouble),
	}
}

// Next returns the next Task, or nil when the iterator is exhausted.
func (it *Iterator) Next(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if it.decks == nil {
			if it.di >= len(it.distributions) {
				return nil, nil
			}

			it.decks = buildDecksForDistribution(it.pool, it.distributions[it.di])
		}

		if it.ci >= len(it.decks) {
			it.di++
			it.ci = 0
			it.decks = nil
			continue
		}

		if it.perms == nil {
			deck := it.decks[it.ci]

			if !it.passesFilter(deck) {
				it.ci++
				continue
			}

			it.perms = it.validPermutations(deck)
			it.centerCount = it.countCenterCards(deck)

			if !it.resumed {
				it.pidx = 0
				it.cidx = 0
			}
			it.resumed = false

			if len(it.perms) == 0 {
				it.perms = nil
				it.ci++
				continue
			}
		}

		if it.pidx >= len(it.perms) {
			it.ci++
			it.perms = nil
			continue
		}

		if it.cidx >= it.centerCount {
			it.pidx++
			it.cidx = 0
			continue
		}

		perm := it.perms[it.pidx]
		centerIdx := it.centerIndexFor(perm, it.cidx)
		it.cidx++

		return &Task{CardIDs: append([]int(nil), perm...), CenterIndex: centerIdx}, nil
	}
}

// Checkpoint saves the current iteration position.
func (it *Iterator) Checkpoint() Checkpoint {
	return Checkpoint{
		DistributionIndex: it.di,
		DeckIndex:         it.ci,
		PermIndex:         it.pidx,
		CenterIndex:       it.cidx,
	}
}

// Resume restores iteration to a previously saved position. The owning
// distribution/deck are rebuilt lazily on the next Next() call.
func (it *Iterator) Resume(cp Checkpoint) {
	it.di = cp.DistributionIndex
	it.ci = cp.DeckIndex
	it.pidx = cp.PermIndex
	it.cidx = cp.CenterIndex
	it.decks = nil
	it.perms = nil
	it.resumed = true
}

// Reset restarts iteration from the beginning.
func (it *Iterator) Reset() {
	it.di, it.ci, it.pidx, it.cidx = 0, 0, 0, 0
	it.decks = nil
	it.perms = nil
	it.resumed = false
}

// Close releases resources. The iterator holds none beyond Go-managed
// memory, so this is a no-op.
func (it *Iterator) Close() error { return nil }
