// ABOUTME: Materializes a deck from (card_series_id, level-triple) pairs
// ABOUTME: Piecewise stat/evolution curves, mental/HP derivation, appeal and score-table computation

// Package deckbuilder turns catalog entries plus a level triple into the
// live, mutable-for-one-play values the simulator kernel reads and
// writes: per-card stats, evolution stage, cost, mental, and the deck's
// cyclic play queue.
package deckbuilder

import (
	"fmt"
	"math"

	"deckminer/internal/catalog"
)

// curvePoint is one (level, percent) key point of a piecewise-linear
// status or HP curve, or (level, stage) for the piecewise-constant
// evolution table.
type curvePoint struct {
	level int
	value float64
}

// statusCurves is the rarity-specific percent-of-max-stat curve, keyed
// by card level.
var statusCurves = map[catalog.Rarity][]curvePoint{
	catalog.RarityR:  {{1, 1}, {30, 50}, {40, 70}, {60, 100}, {70, 110}, {80, 120}},
	catalog.RaritySR: {{1, 1}, {40, 50}, {60, 70}, {80, 100}, {90, 110}, {100, 120}},
	catalog.RarityUR: {{1, 1}, {60, 50}, {80, 70}, {100, 100}, {110, 110}, {120, 120}},
	catalog.RarityLR: {{1, 1}, {100, 70}, {120, 100}, {130, 110}, {140, 120}},
	catalog.RarityDR: {{1, 1}, {100, 70}, {120, 100}, {130, 110}, {140, 120}},
	catalog.RarityBR: {{1, 1}, {80, 70}, {100, 100}, {110, 110}, {120, 120}},
}

// hpCurves is the rarity-specific percent-of-max-mental curve.
var hpCurves = map[catalog.Rarity][]curvePoint{
	catalog.RarityR:  {{1, 20}, {30, 50}, {40, 70}, {60, 100}},
	catalog.RaritySR: {{1, 20}, {40, 50}, {60, 70}, {80, 100}},
	catalog.RarityUR: {{1, 20}, {60, 50}, {80, 70}, {100, 100}},
	catalog.RarityLR: {{1, 20}, {100, 70}, {120, 100}},
	catalog.RarityDR: {{1, 20}, {100, 70}, {120, 100}},
	catalog.RarityBR: {{1, 20}, {80, 70}, {100, 100}},
}

// evolutionStages is the rarity-specific (level-ceiling, stage) table.
var evolutionStages = map[catalog.Rarity][]curvePoint{
	catalog.RarityR:  {{40, 0}, {60, 2}, {70, 3}, {80, 4}},
	catalog.RaritySR: {{60, 0}, {80, 2}, {90, 3}, {100, 4}},
	catalog.RarityUR: {{80, 0}, {100, 2}, {110, 3}, {120, 4}},
	catalog.RarityLR: {{100, 0}, {120, 2}, {130, 3}, {140, 4}},
	catalog.RarityDR: {{100, 0}, {120, 2}, {130, 3}, {140, 4}},
	catalog.RarityBR: {{80, 0}, {100, 2}, {110, 3}, {120, 4}},
}

func interpolate(curve []curvePoint, level int) float64 {
	if level <= curve[0].level {
		return curve[0].value
	}

	for i := 1; i < len(curve); i++ {
		start, end := curve[i-1], curve[i]
		if level <= end.level {
			t := float64(level-start.level) / float64(end.level-start.level)
			return start.value + t*(end.value-start.value)
		}
	}

	return curve[len(curve)-1].value
}

// StatAtLevel returns the percent (out of 100) applied to the card's
// reference max-stat (the fixed statReferenceStage entry, not the
// level-derived EvolutionStageAtLevel) at the given card level.
func StatAtLevel(rarity catalog.Rarity, level int) float64 {
	return interpolate(statusCurves[rarity], level)
}

// HPAtLevel returns the percent applied to the card's reference
// max-mental stat at the given card level.
func HPAtLevel(rarity catalog.Rarity, level int) float64 {
	return interpolate(hpCurves[rarity], level)
}

// EvolutionStageAtLevel returns the piecewise-constant evolution stage
// (0..4) selecting which skill variant binds at the given card level.
func EvolutionStageAtLevel(rarity catalog.Rarity, level int) int {
	stages := evolutionStages[rarity]

	for _, p := range stages {
		if level <= p.level {
			return int(p.value)
		}
	}

	return int(stages[len(stages)-1].value)
}

// statReferenceStage is the fixed evolution-stage index (array position
// 2 of 5) whose max-stat value the status curve percentage is applied
// to — distinct from the level-derived EvolutionStageAtLevel, which only
// selects the active skill variant. Matches the reference system's
// fixed "stage 3" max-stat reference (see Glossary: Status curve).
const statReferenceStage = 2

// LiveCard is one deck-local card instance, mutable for the duration of
// a single simulation.
type LiveCard struct {
	CardSeriesID int
	CharacterID  int
	Rarity       catalog.Rarity

	Smile, Pure, Cool float64
	Mental            int

	EvolutionStage int
	SkillSeriesID  int
	SkillLevel     int
	Cost           int

	CenterSkillSeriesID     int
	CenterAttributeSeriesID int
	CenterSkillLevel        int

	ActiveCount int
	IsExcept    bool
}

// CostChange applies a signed delta to Cost, floored at 0.
func (c *LiveCard) CostChange(delta int) {
	c.Cost = max(0, c.Cost+delta)
}

// LevelTriple is (card_level, center_skill_level, skill_level).
type LevelTriple struct {
	CardLevel        int
	CenterSkillLevel int
	SkillLevel       int
}

// BuildLiveCard materializes one LiveCard from a catalog card and level triple.
func BuildLiveCard(cat *catalog.Catalog, cardSeriesID int, levels LevelTriple) (*LiveCard, error) {
	card, ok := cat.Card(cardSeriesID)
	if !ok {
		return nil, fmt.Errorf("deckbuilder: unknown card_series_id %d", cardSeriesID)
	}

	statPercent := StatAtLevel(card.Rarity, levels.CardLevel)
	hpPercent := HPAtLevel(card.Rarity, levels.CardLevel)
	evo := EvolutionStageAtLevel(card.Rarity, levels.CardLevel)

	smile := math.Ceil(float64(card.MaxSmile[statReferenceStage]) * statPercent / 100)
	pure := math.Ceil(float64(card.MaxPure[statReferenceStage]) * statPercent / 100)
	cool := math.Ceil(float64(card.MaxCool[statReferenceStage]) * statPercent / 100)
	mental := int(math.Ceil(float64(card.MaxMental[statReferenceStage]) * hpPercent / 100))

	skillSeriesID := card.RhythmGameSkillSeriesID[evo]

	skill, ok := cat.Skill(skillSeriesID, levels.SkillLevel)
	if !ok {
		return nil, fmt.Errorf("deckbuilder: unknown skill %d level %d", skillSeriesID, levels.SkillLevel)
	}

	return &LiveCard{
		CardSeriesID:            cardSeriesID,
		CharacterID:             card.CharacterID,
		Rarity:                  card.Rarity,
		Smile:                   smile,
		Pure:                    pure,
		Cool:                    cool,
		Mental:                  mental,
		EvolutionStage:          evo,
		SkillSeriesID:           skillSeriesID,
		SkillLevel:              levels.SkillLevel,
		Cost:                    skill.ConsumeAP,
		CenterSkillSeriesID:     card.CenterSkillSeriesID,
		CenterAttributeSeriesID: card.CenterAttributeSeriesID,
		CenterSkillLevel:        levels.CenterSkillLevel,
	}, nil
}

// Deck is an ordered sequence of six live cards with a cyclic play queue.
type Deck struct {
	Cards   []*LiveCard
	queue   []*LiveCard // nil entry is the all-excepted sentinel
	CardLog []string
	Appeal  int
}

// BuildDeck materializes a full deck from (card_series_id, levels) pairs.
func BuildDeck(cat *catalog.Catalog, cards []int, levels []LevelTriple) (*Deck, error) {
	if len(cards) != 6 || len(levels) != 6 {
		return nil, fmt.Errorf("deckbuilder: deck must have exactly 6 cards, got %d cards / %d levels", len(cards), len(levels))
	}

	d := &Deck{Cards: make([]*LiveCard, 0, 6)}

	for i, id := range cards {
		lc, err := BuildLiveCard(cat, id, levels[i])
		if err != nil {
			return nil, err
		}

		d.Cards = append(d.Cards, lc)
	}

	d.Reset()

	return d, nil
}

// Reset refills the queue from non-excepted cards in original order. If
// every card is excepted, the queue holds a single sentinel nil slot so
// TopCard/TopSkill remain well-defined no-ops.
func (d *Deck) Reset() {
	d.queue = d.queue[:0]

	for _, c := range d.Cards {
		if !c.IsExcept {
			d.queue = append(d.queue, c)
		}
	}

	if len(d.queue) == 0 {
		d.queue = append(d.queue, nil)
	}
}

// TopCard returns the head of the play queue without popping it, or nil
// when the deck is fully excepted.
func (d *Deck) TopCard() *LiveCard {
	if len(d.queue) == 0 {
		d.Reset()
	}

	return d.queue[0]
}

// TopSkill pops the head of the queue, logs it, and returns its bound
// skill series id and level. Returns (0, 0, false) on the sentinel slot.
func (d *Deck) TopSkill() (seriesID, level int, ok bool) {
	if len(d.queue) == 0 {
		d.Reset()
	}

	top := d.queue[0]
	d.queue = d.queue[1:]

	if top == nil {
		return 0, 0, false
	}

	d.CardLog = append(d.CardLog, fmt.Sprintf("%d", top.CardSeriesID))

	return top.SkillSeriesID, top.SkillLevel, true
}

// AppealCalc computes total appeal: for each card, smile+pure+cool with
// the song-color stat weighted 10x before summing; result is
// ceil(sum/10).
func (d *Deck) AppealCalc(musicType int) int {
	var total float64

	for _, c := range d.Cards {
		smile, pure, cool := c.Smile, c.Pure, c.Cool

		switch musicType {
		case 1:
			smile *= 10
		case 2:
			pure *= 10
		case 3:
			cool *= 10
		}

		total += smile + pure + cool
	}

	d.Appeal = int(math.Ceil(total / 10))

	return d.Appeal
}

// MentalSum is the deck's total max-HP contribution (sum of per-card mental).
func (d *Deck) MentalSum() int {
	var total int
	for _, c := range d.Cards {
		total += c.Mental
	}

	return total
}

// UsedAllSkillCount is the sum of every card's active_count.
func (d *Deck) UsedAllSkillCount() int {
	var total int
	for _, c := range d.Cards {
		total += c.ActiveCount
	}

	return total
}

// Mental derivation constants (§4.C).
const (
	missBase  = 50
	missRate  = 0.05
	badBase   = 30
	badRate   = 0.03
	traceBase = 20
	traceRate = 0.02
)

// MentalDamage holds the three judgement damage amounts derived from max_hp.
type MentalDamage struct {
	Miss, Bad, Trace int
}

// ComputeMentalDamage derives the MISS/BAD/Trace damage amounts from max_hp.
func ComputeMentalDamage(maxHP int) MentalDamage {
	return MentalDamage{
		Miss:  missBase + int(math.Floor(float64(maxHP)*missRate)),
		Bad:   badBase + int(math.Floor(float64(maxHP)*badRate)),
		Trace: traceBase + int(math.Floor(float64(maxHP)*traceRate)),
	}
}

// NoteScoreTable is the per-judgement note score, derived from base_score.
type NoteScoreTable struct {
	PerfectPlus, Perfect, Great, Good, Bad float64
}

// BaseScore returns appeal * (1 + master_level/100).
func BaseScore(appeal, masterLevel int) float64 {
	return float64(appeal) * (1 + float64(masterLevel)/100)
}

// ComputeNoteScoreTable builds the per-judgement score table and the
// half/full AP-plus constants from base_score and the chart's note count.
func ComputeNoteScoreTable(baseScore float64, allNoteSize int) (NoteScoreTable, float64, float64) {
	if allNoteSize <= 0 {
		return NoteScoreTable{}, 0, 0
	}

	table := NoteScoreTable{
		PerfectPlus: 35 * baseScore / float64(allNoteSize),
		Perfect:     30 * baseScore / float64(allNoteSize),
		Great:       25 * baseScore / float64(allNoteSize),
		Good:        15 * baseScore / float64(allNoteSize),
		Bad:         5 * baseScore / float64(allNoteSize),
	}

	fullAPPlus := 600000 / float64(allNoteSize)
	halfAPPlus := 300000 / float64(allNoteSize)

	return table, fullAPPlus, halfAPPlus
}
