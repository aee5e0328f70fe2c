// ABOUTME: Event-driven simulator kernel: merges the chart timeline with a dynamic-event heap
// ABOUTME: Resolves judgement policy, fires card/center skills, and accumulates score

// Package sim runs one play of a deck against one chart. A Simulation is
// built fresh per task and never shared across goroutines; all shared
// reference data (catalog, chart) is read-only.
package sim

import (
	"container/heap"
	"fmt"
	"math"

	"deckminer/internal/catalog"
	"deckminer/internal/chartio"
	"deckminer/internal/deckbuilder"
	"deckminer/internal/langid"
)

// HanabiGinkoCardID is the card whose presence defers MISS judgement to a
// scheduled event instead of applying it at note time (§4.E).
const HanabiGinkoCardID = 1041517

// Voltage tracks the scoring multiplier: integer points, a derived level
// per the quadratic-then-linear formula, and the fever flag that doubles
// the displayed level for scoring.
type Voltage struct {
	Points int
	level  int
	Fever  bool
}

// pointsForLevel returns the cumulative points required to reach level L:
// quadratic up to 20, linear afterward.
func pointsForLevel(level int) int {
	if level <= 0 {
		return 0
	}
	if level <= 20 {
		return 5 * level * (level + 1)
	}
	return 200*level - 1900
}

// AddPoints adds (or subtracts, for a negative delta) points and
// recomputes the level, never dropping points below 0.
func (v *Voltage) AddPoints(delta int) {
	v.Points += delta
	if v.Points < 0 {
		v.Points = 0
	}

	for v.level > 0 && v.Points < pointsForLevel(v.level) {
		v.level--
	}
	for pointsForLevel(v.level+1) <= v.Points {
		v.level++
	}
}

// Level is the raw (non-fever-doubled) voltage level.
func (v *Voltage) Level() int { return v.level }

// DisplayLevel is the level used for scoring: doubled during fever.
func (v *Voltage) DisplayLevel() int {
	if v.Fever {
		return v.level * 2
	}
	return v.level
}

// Bonus is the score multiplier derived from the displayed level.
func (v *Voltage) Bonus() float64 {
	return float64(v.DisplayLevel()+10) / 10
}

// Mental tracks current/max HP and the three judgement damage amounts
// derived once from max_hp at play start.
type Mental struct {
	CurrentHP int
	MaxHP     int
	damage    deckbuilder.MentalDamage
}

// SetHP initializes max/current HP and derives the MISS/BAD/Trace damage
// amounts.
func (m *Mental) SetHP(maxHP int) {
	m.MaxHP = maxHP
	m.CurrentHP = maxHP
	m.damage = deckbuilder.ComputeMentalDamage(maxHP)
}

// Rate returns current HP as a percentage (0..100) of max HP.
func (m *Mental) Rate() float64 {
	if m.MaxHP == 0 {
		return 0
	}
	return float64(m.CurrentHP) * 100 / float64(m.MaxHP)
}

// MissDamageFor returns the damage a MISS on this note type would deal:
// the lighter Trace damage for Trace/HoldMid notes, else the full MISS
// damage.
func (m *Mental) MissDamageFor(eventType chartio.EventType) int {
	if eventType == chartio.Trace || eventType == chartio.HoldMid {
		return m.damage.Trace
	}
	return m.damage.Miss
}

// BadDamage is the damage a BAD judgement deals.
func (m *Mental) BadDamage() int { return m.damage.Bad }

// WouldDie reports whether subtracting dmg would bring current HP to 0 or
// below, without mutating state.
func (m *Mental) WouldDie(dmg int) bool {
	return m.CurrentHP-dmg <= 0
}

// Sub applies judgement damage, clamping at 0. Returns true when HP
// reaches 0 (the play terminates).
func (m *Mental) Sub(dmg int) (dead bool) {
	m.CurrentHP -= dmg
	if m.CurrentHP <= 0 {
		m.CurrentHP = 0
		return true
	}
	return false
}

// SkillAdd applies a positive MentalRateChange effect: percent of max_hp,
// ceiled, clamped to [1, max_hp] (never heals past max, never kills).
func (m *Mental) SkillAdd(percent float64) {
	delta := int(math.Ceil(float64(m.MaxHP) * percent / 100))
	hp := m.CurrentHP + delta
	if hp > m.MaxHP {
		hp = m.MaxHP
	}
	if hp < 1 {
		hp = 1
	}
	m.CurrentHP = hp
}

// SkillSub applies the MentalRateChange negative branch (T=4, D=1): not
// exercised by any known effect data, implemented as a no-throw
// floor-at-0 decrement consistent with SkillAdd's ceil (see design notes
// on the reserved negative branch).
func (m *Mental) SkillSub(percent float64) {
	delta := int(math.Ceil(float64(m.MaxHP) * percent / 100))
	hp := m.CurrentHP - delta
	if hp < 0 {
		hp = 0
	}
	m.CurrentHP = hp
}

// PlayerState is the mutable per-play state the event loop reads and
// writes: resource meters, rate modifiers, and the accumulated score.
type PlayerState struct {
	AP      float64
	Combo   int
	APRate  float64
	Score   int

	APGainRate      float64 // percent, base 100, from center attributes
	VoltageGainRate float64 // percent, base 100, from center attributes
	Cooldown        float64

	CDAvailable bool

	Voltage Voltage
	Mental  Mental

	NoteScore  deckbuilder.NoteScoreTable
	FullAPPlus float64
	HalfAPPlus float64
	BaseScore  float64

	NextScoreGainRate   []float64
	NextVoltageGainRate []float64
}

// ScoreAdd applies the voltage bonus (and, for skill effects, base_score)
// to value, ceils it, and adds the result to Score. Returns the added
// amount.
func (p *PlayerState) ScoreAdd(value float64, skillEffect bool) int {
	value *= p.Voltage.Bonus()
	if skillEffect {
		value *= p.BaseScore
	}

	added := int(math.Ceil(value))
	p.Score += added

	return added
}

func (p *PlayerState) scoreNote(judgement string) {
	var value float64
	switch judgement {
	case "PERFECT+":
		value = p.NoteScore.PerfectPlus
	case "PERFECT":
		value = p.NoteScore.Perfect
	case "GREAT":
		value = p.NoteScore.Great
	case "GOOD":
		value = p.NoteScore.Good
	case "BAD":
		value = p.NoteScore.Bad
	default:
		return
	}

	p.ScoreAdd(value, false)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (p *PlayerState) updateAPRate() {
	p.APRate = 1.0 + float64(minInt(p.Combo, 50)/10)*0.1
}

// ComboAdd resolves one judged note against the player's combo/AP/mental
// state and adds its note score. Returns true when the note's mental
// damage brought HP to 0 (terminating the play).
func (p *PlayerState) ComboAdd(judgement string, eventType chartio.EventType) (dead bool) {
	switch judgement {
	case "PERFECT+", "PERFECT", "GREAT":
		p.Combo++
		p.updateAPRate()
		p.AP += math.Ceil(p.FullAPPlus*p.APRate) / 10000
		p.scoreNote(judgement)
		return false

	case "GOOD":
		p.Combo++
		p.updateAPRate()
		p.AP += math.Ceil(p.HalfAPPlus*p.APRate) * 0.0001
		p.scoreNote(judgement)
		return false

	default: // MISS or BAD
		p.Combo = 0
		p.APRate = 1.0

		dmg := p.Mental.MissDamageFor(eventType)
		if judgement == "BAD" {
			dmg = p.Mental.BadDamage()
		}

		dead = p.Mental.Sub(dmg)

		if judgement == "BAD" {
			p.scoreNote(judgement)
		}

		return dead
	}
}

// popNextScoreGainRate consumes the head of next_score_gain_rate if
// present, returning the base-100 rate to apply.
func popNextScoreGainRate(p *PlayerState) float64 {
	rate := 100.0
	if len(p.NextScoreGainRate) > 0 {
		rate += p.NextScoreGainRate[0]
		p.NextScoreGainRate = p.NextScoreGainRate[1:]
	}
	return rate
}

// popNextVoltageGainRate consumes the head of next_voltage_gain_rate if
// present, returning the voltage_gain_rate-based rate to apply.
func popNextVoltageGainRate(p *PlayerState) float64 {
	rate := p.VoltageGainRate
	if len(p.NextVoltageGainRate) > 0 {
		rate += p.NextVoltageGainRate[0]
		p.NextVoltageGainRate = p.NextVoltageGainRate[1:]
	}
	return rate
}

// appendNextRate folds value into the first usageCount entries of a
// next_*_gain_rate queue, appending new entries past the queue's current
// length. usageCount < 1 is treated as 1.
func appendNextRate(queue []float64, value float64, usageCount int) []float64 {
	if usageCount < 1 {
		usageCount = 1
	}

	for i := 0; i < usageCount; i++ {
		if i < len(queue) {
			queue[i] += value
		} else {
			queue = append(queue, value)
		}
	}

	return queue
}

// unknownEncodingLog collects one message per malformed packed id met
// during a play; the effect is skipped (or the condition treated as
// false), never escalated. The collected messages stay inside Simulate:
// they are not written to any logger and not returned in Result.
type unknownEncodingLog struct {
	entries []string
}

func (l *unknownEncodingLog) record(format string, args ...any) {
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

// applyCardSkill evaluates a card skill's (condition, effect) pairs by
// index — each effect fires only if its own same-index condition holds,
// independent of every other pair's outcome — and applies the matching
// effects. ActiveCount counts skill uses, not condition passes: it
// increments whenever the skill is popped and applied here, before any
// condition is checked.
func applyCardSkill(p *PlayerState, skill catalog.Skill, card *deckbuilder.LiveCard, deck *deckbuilder.Deck, cache *langid.Cache, log *unknownEncodingLog) {
	card.ActiveCount++

	pairs := len(skill.Conditions)
	if len(skill.Effects) < pairs {
		pairs = len(skill.Effects)
	}

	for i := 0; i < pairs; i++ {
		conds, err := cache.Condition(skill.Conditions[i])
		if err != nil {
			log.record("unknown card-skill condition %q: %v", skill.Conditions[i], err)
			continue
		}

		if !checkConditions(p, card, deck, conds) {
			continue
		}

		eff, err := cache.Effect(skill.Effects[i])
		if err != nil {
			log.record("unknown card-skill effect %d: %v", skill.Effects[i], err)
			continue
		}

		applyCardEffect(p, eff, card, deck)
	}
}

func checkConditions(p *PlayerState, card *deckbuilder.LiveCard, deck *deckbuilder.Deck, conds []langid.Condition) bool {
	for _, c := range conds {
		if !checkOneCondition(p, card, deck, c.Type, c.Op, c.Value) {
			return false
		}
	}
	return true
}

func compareOp(op langid.Operator, actual, want int) bool {
	switch op {
	case langid.OpGE:
		return actual >= want
	case langid.OpLE:
		return actual <= want
	default:
		return true
	}
}

func checkOneCondition(p *PlayerState, card *deckbuilder.LiveCard, deck *deckbuilder.Deck, t langid.ConditionType, op langid.Operator, value int) bool {
	switch t {
	case langid.ConditionAlwaysTrue:
		return true
	case langid.ConditionFeverTime:
		return p.Voltage.Fever
	case langid.ConditionVoltageLevel:
		return compareOp(op, p.Voltage.Level(), value)
	case langid.ConditionMentalRate:
		return compareOp(op, int(p.Mental.Rate()*100), value)
	case langid.ConditionUsedAllSkillCount:
		return compareOp(op, deck.UsedAllSkillCount(), value)
	case langid.ConditionUsedSkillCount:
		if card == nil {
			return false
		}
		return compareOp(op, card.ActiveCount, value)
	default:
		return false
	}
}

func applyCardEffect(p *PlayerState, eff langid.Effect, card *deckbuilder.LiveCard, deck *deckbuilder.Deck) {
	switch eff.Type {
	case langid.EffectAPChange:
		amount := float64(eff.Value) / 10000
		if eff.Direction == 0 {
			amount *= p.APRate * p.APGainRate / 100
			p.AP += amount
		} else {
			p.AP -= amount
		}
		if p.AP < 0 {
			p.AP = 0
		}

	case langid.EffectScoreGain:
		rate := popNextScoreGainRate(p)
		value := float64(eff.Value) * rate / 1_000_000
		p.ScoreAdd(value, true)

	case langid.EffectVoltagePointChange:
		if eff.Direction == 0 {
			rate := popNextVoltageGainRate(p)
			amount := int(math.Ceil(float64(eff.Value) * rate / 100))
			p.Voltage.AddPoints(amount)
		} else {
			p.Voltage.AddPoints(-eff.Value)
		}

	case langid.EffectMentalRateChange:
		percent := float64(eff.Value) / 100
		if eff.Direction == 0 {
			p.Mental.SkillAdd(percent)
		} else {
			p.Mental.SkillSub(percent)
		}

	case langid.EffectDeckReset:
		deck.Reset()

	case langid.EffectCardExcept:
		if card != nil {
			card.IsExcept = true
		}

	case langid.EffectNextScoreGainRate:
		p.NextScoreGainRate = appendNextRate(p.NextScoreGainRate, float64(eff.Value)/100, eff.UsageCount)

	case langid.EffectNextVoltageGainRate:
		p.NextVoltageGainRate = appendNextRate(p.NextVoltageGainRate, float64(eff.Value)/100, eff.UsageCount)
	}
}

// unitDict groups character ids into the unit-target buckets used by
// TargetUnit center-attribute selectors.
var unitDict = map[int][]int{
	101: {1021, 1031, 1041},
	102: {1022, 1032, 1042},
	103: {1023, 1033, 1043},
	105: {1051, 1052},
}

func matchesTarget(sel langid.TargetSelector, card *deckbuilder.LiveCard) bool {
	switch sel.Type {
	case langid.TargetMember:
		return card.CharacterID == sel.Value
	case langid.TargetUnit:
		for _, id := range unitDict[sel.Value] {
			if card.CharacterID == id {
				return true
			}
		}
		return false
	case langid.TargetGeneration:
		return card.CharacterID/10 == sel.Value/10
	case langid.TargetStyleType:
		return false // reserved: no catalog card currently carries a style type
	case langid.TargetAll:
		return true
	default:
		return false
	}
}

func matchesAnyTarget(sels []langid.TargetSelector, card *deckbuilder.LiveCard) bool {
	for _, s := range sels {
		if matchesTarget(s, card) {
			return true
		}
	}
	return false
}

// applyCenterAttribute runs the center card's once-per-play passive
// effect over its targeted subset of the deck.
func applyCenterAttribute(p *PlayerState, deck *deckbuilder.Deck, center *deckbuilder.LiveCard, cat *catalog.Catalog, cache *langid.Cache, log *unknownEncodingLog) {
	if center == nil || center.CenterAttributeSeriesID == 0 {
		return
	}

	attr, ok := cat.CenterAttribute(center.CenterAttributeSeriesID)
	if !ok {
		return
	}

	for i, effID := range attr.Effects {
		eff, err := cache.CenterAttributeEffect(effID)
		if err != nil {
			log.record("unknown center-attribute effect %d: %v", effID, err)
			continue
		}

		var targetField string
		if i < len(attr.Targets) {
			targetField = attr.Targets[i]
		}

		var targets []*deckbuilder.LiveCard
		if targetField == "" {
			targets = deck.Cards
		} else {
			sels, err := cache.TargetSelectors(targetField)
			if err != nil {
				log.record("unknown target selector %q: %v", targetField, err)
				continue
			}

			for _, c := range deck.Cards {
				if matchesAnyTarget(sels, c) {
					targets = append(targets, c)
				}
			}
		}

		applyCenterAttributeEffect(p, eff, targets)
	}
}

func applyCenterAttributeEffect(p *PlayerState, eff langid.CenterAttributeEffect, targets []*deckbuilder.LiveCard) {
	sign := 1.0
	if eff.Direction == 1 {
		sign = -1.0
	}

	switch eff.Type {
	case langid.CAEffectSmileRateChange, langid.CAEffectPureRateChange, langid.CAEffectCoolRateChange:
		multiplier := 1 + float64(eff.Value)/10000
		for _, c := range targets {
			switch eff.Type {
			case langid.CAEffectSmileRateChange:
				c.Smile *= multiplier
			case langid.CAEffectPureRateChange:
				c.Pure *= multiplier
			case langid.CAEffectCoolRateChange:
				c.Cool *= multiplier
			}
		}

	case langid.CAEffectSmileValueChange, langid.CAEffectPureValueChange, langid.CAEffectCoolValueChange:
		delta := float64(eff.Value) * sign
		for _, c := range targets {
			switch eff.Type {
			case langid.CAEffectSmileValueChange:
				c.Smile += delta
			case langid.CAEffectPureValueChange:
				c.Pure += delta
			case langid.CAEffectCoolValueChange:
				c.Cool += delta
			}
		}

	case langid.CAEffectMentalRateChange:
		percent := float64(eff.Value) / 100 * sign
		if percent >= 0 {
			p.Mental.SkillAdd(percent)
		} else {
			p.Mental.SkillSub(-percent)
		}

	case langid.CAEffectMentalValueChange:
		delta := int(float64(eff.Value) * sign)
		for _, c := range targets {
			c.Mental += delta
		}

	case langid.CAEffectConsumeAPChange:
		delta := int(float64(eff.Value) * sign)
		for _, c := range targets {
			c.CostChange(delta)
		}

	case langid.CAEffectCoolTimeChange:
		p.Cooldown += float64(eff.Value) / 100 * sign

	case langid.CAEffectAPGainRateChange:
		p.APGainRate += float64(eff.Value) / 100 * sign

	case langid.CAEffectVoltageGainRateChange:
		p.VoltageGainRate += float64(eff.Value) / 100 * sign

	case langid.CAEffectAPRateChangeResetGuard:
		p.APRate += float64(eff.Value) / 100 * sign
	}
}

// applyCenterSkill runs the center card's per-phase-event skill, pairing
// each condition with its same-index effect — one pair's failing
// condition never suppresses another pair's effect.
func applyCenterSkill(p *PlayerState, deck *deckbuilder.Deck, center *deckbuilder.LiveCard, phase chartio.EventType, cat *catalog.Catalog, cache *langid.Cache, log *unknownEncodingLog) {
	if center == nil || center.CenterSkillSeriesID == 0 {
		return
	}

	skill, ok := cat.CenterSkill(center.CenterSkillSeriesID, center.CenterSkillLevel)
	if !ok {
		return
	}

	pairs := len(skill.Conditions)
	if len(skill.Effects) < pairs {
		pairs = len(skill.Effects)
	}

	for i := 0; i < pairs; i++ {
		conds, err := cache.CenterSkillCondition(skill.Conditions[i])
		if err != nil {
			log.record("unknown center-skill condition %q: %v", skill.Conditions[i], err)
			continue
		}

		holds := true
		for _, c := range conds {
			if !checkCenterSkillCondition(p, deck, c, phase) {
				holds = false
				break
			}
		}
		if !holds {
			continue
		}

		eff, err := cache.Effect(skill.Effects[i])
		if err != nil {
			log.record("unknown center-skill effect %d: %v", skill.Effects[i], err)
			continue
		}

		applyCardEffect(p, eff, nil, deck)
	}
}

func checkCenterSkillCondition(p *PlayerState, deck *deckbuilder.Deck, c langid.CenterSkillCondition, phase chartio.EventType) bool {
	switch c.Type {
	case langid.CenterConditionLiveStart:
		return phase == chartio.LiveStart
	case langid.CenterConditionLiveEnd:
		return phase == chartio.LiveEnd
	case langid.CenterConditionFeverStart:
		return phase == chartio.FeverStart
	case langid.CenterConditionFeverTime:
		return p.Voltage.Fever
	case langid.CenterConditionVoltageLevel:
		return compareOp(c.Op, p.Voltage.Level(), c.Value)
	case langid.CenterConditionMentalRate:
		return compareOp(c.Op, int(p.Mental.Rate()*100), c.Value)
	case langid.CenterConditionAfterUsedAllSkillCount:
		return compareOp(c.Op, deck.UsedAllSkillCount(), c.Value)
	default:
		return false
	}
}

// dynEventKind tags a dynamically scheduled event.
type dynEventKind int

const (
	dynCDAvailable dynEventKind = iota
	dynDelayedJudgement
)

type dynEvent struct {
	time     float64
	seq      int
	kind     dynEventKind
	noteType chartio.EventType // only meaningful for dynDelayedJudgement
}

// dynHeap is a min-heap ordered by (time, seq) — see §9's "min-heap
// ordered by (timestamp, insertion_seq)" design note.
type dynHeap []dynEvent

func (h dynHeap) Len() int { return len(h) }
func (h dynHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}
func (h dynHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dynHeap) Push(x any)        { *h = append(*h, x.(dynEvent)) }
func (h *dynHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Options configures one simulated play.
type Options struct {
	CardIDs     []int
	Levels      []deckbuilder.LevelTriple
	Chart       *chartio.Chart
	MasterLevel int
	MusicType   int // 1 Smile, 2 Pure, 3 Cool
	CenterCharacterID int
	CenterIndex int // -1 selects the auto-selection rule
	DeathNoteThresholds map[int]int
}

// Result is the outcome of one play.
type Result struct {
	Score      int
	PlayLog    []string
	CenterCard int // card_series_id of the selected center, 0 if none
}

// selectCenterIndex implements §4.E's center-card selection rule: an
// explicit index wins outright; otherwise prefer a DR-rarity card
// matching the center character, else the first matching card in deck
// order.
func selectCenterIndex(deck *deckbuilder.Deck, centerCharacterID, explicitIndex int) int {
	if explicitIndex >= 0 && explicitIndex < len(deck.Cards) {
		return explicitIndex
	}

	firstMatch := -1
	for i, c := range deck.Cards {
		if c.CharacterID != centerCharacterID {
			continue
		}
		if firstMatch == -1 {
			firstMatch = i
		}
		if c.Rarity == catalog.RarityDR {
			return i
		}
	}

	return firstMatch
}

// afkState tracks the Death-Note AFK threshold (0 = inactive, recomputed
// whenever a new card becomes excepted) and the Hanabi-Ginko flag (fixed
// for the whole play).
type afkState struct {
	threshold   int // hp-rate percent; 0 means the rule is inactive
	hanabiGinko bool
}

func recomputeAFKThreshold(deck *deckbuilder.Deck, thresholds map[int]int) int {
	lowest := 0
	found := false

	for _, c := range deck.Cards {
		if c.IsExcept {
			continue
		}
		if t, ok := thresholds[c.CardSeriesID]; ok {
			if !found || t < lowest {
				lowest = t
				found = true
			}
		}
	}

	if !found {
		return 0
	}
	return lowest
}

// judgeNote resolves the MISS-vs-PERFECT AFK policy for a note judged
// right now (not a delayed Hanabi-Ginko re-check).
func judgeNote(p *PlayerState, afk afkState, eventType chartio.EventType) string {
	if afk.threshold <= 0 {
		return "PERFECT"
	}
	if p.Mental.Rate() <= float64(afk.threshold) {
		return "PERFECT"
	}

	dmg := p.Mental.MissDamageFor(eventType)
	if p.Mental.WouldDie(dmg) {
		return "PERFECT"
	}

	return "MISS"
}

// Simulate runs one deterministic play and returns the accumulated
// score, a textual play log, and the resolved center card id.
func Simulate(cat *catalog.Catalog, cache *langid.Cache, opts Options) (Result, error) {
	if opts.Chart == nil {
		return Result{}, fmt.Errorf("sim: chart is required")
	}

	if opts.Chart.AllNoteSize == 0 {
		return Result{}, nil
	}

	deck, err := deckbuilder.BuildDeck(cat, opts.CardIDs, opts.Levels)
	if err != nil {
		return Result{}, err
	}

	appeal := deck.AppealCalc(opts.MusicType)
	baseScore := deckbuilder.BaseScore(appeal, opts.MasterLevel)
	noteScore, fullAPPlus, halfAPPlus := deckbuilder.ComputeNoteScoreTable(baseScore, opts.Chart.AllNoteSize)

	player := &PlayerState{
		APRate:          1.0,
		APGainRate:      100,
		VoltageGainRate: 100,
		Cooldown:        5.0,
		CDAvailable:     false,
		NoteScore:       noteScore,
		FullAPPlus:      fullAPPlus,
		HalfAPPlus:      halfAPPlus,
		BaseScore:       baseScore,
	}
	player.Mental.SetHP(deck.MentalSum())

	centerIdx := selectCenterIndex(deck, opts.CenterCharacterID, opts.CenterIndex)
	var center *deckbuilder.LiveCard
	if centerIdx >= 0 {
		center = deck.Cards[centerIdx]
	}

	log := &unknownEncodingLog{}

	applyCenterAttribute(player, deck, center, cat, cache, log)

	afk := afkState{
		threshold:   recomputeAFKThreshold(deck, opts.DeathNoteThresholds),
		hanabiGinko: containsCard(deck, HanabiGinkoCardID),
	}

	cardNow := deck.TopCard()

	var h dynHeap
	heap.Init(&h)
	seq := 0

	scheduleCDAvailable := func(at float64) {
		heap.Push(&h, dynEvent{time: at, seq: seq, kind: dynCDAvailable})
		seq++
	}

	scheduleDelayedJudgement := func(at float64, noteType chartio.EventType) {
		heap.Push(&h, dynEvent{time: at, seq: seq, kind: dynDelayedJudgement, noteType: noteType})
		seq++
	}

	scheduleCDAvailable(player.Cooldown) // first skill attempt unlocks after one cooldown

	var currentTime float64

	tryFireSkill := func() {
		if cardNow == nil || !player.CDAvailable || player.AP < float64(cardNow.Cost) {
			return
		}

		player.AP -= float64(cardNow.Cost)

		exceptedBefore := countExcepted(deck)

		seriesID, level, ok := deck.TopSkill()
		if ok {
			if skill, found := cat.Skill(seriesID, level); found {
				applyCardSkill(player, skill, cardNow, deck, cache, log)
			}
		}

		if countExcepted(deck) != exceptedBefore {
			afk.threshold = recomputeAFKThreshold(deck, opts.DeathNoteThresholds)
		}

		player.CDAvailable = false
		scheduleCDAvailable(currentTime + player.Cooldown)

		cardNow = deck.TopCard()
	}

	ci := 0
	terminated := false

	for !terminated {
		haveChart := ci < len(opts.Chart.Events)
		haveDyn := h.Len() > 0

		if !haveChart && !haveDyn {
			break
		}

		var takeChart bool
		if haveChart && haveDyn {
			takeChart = opts.Chart.Events[ci].Time <= h[0].time
		} else {
			takeChart = haveChart
		}

		if takeChart {
			ev := opts.Chart.Events[ci]
			ci++
			currentTime = ev.Time

			switch ev.Type {
			case chartio.LiveStart, chartio.FeverStart, chartio.LiveEnd:
				if ev.Type == chartio.FeverStart {
					player.Voltage.Fever = true
				}

				applyCenterSkill(player, deck, center, ev.Type, cat, cache, log)

				if ev.Type == chartio.LiveEnd {
					terminated = true
				}

			case chartio.FeverEnd:
				player.Voltage.Fever = false

			case chartio.Single, chartio.Hold, chartio.HoldMid, chartio.Flick, chartio.Trace:
				judgement := judgeNote(player, afk, ev.Type)

				if judgement == "MISS" && afk.hanabiGinko {
					window := chartio.JudgementWindow[ev.Type]
					scheduleDelayedJudgement(ev.Time+window, ev.Type)
				} else if player.ComboAdd(judgement, ev.Type) {
					terminated = true
				}

				if !terminated {
					tryFireSkill()
				}
			}
		} else {
			dyn := heap.Pop(&h).(dynEvent)
			currentTime = dyn.time

			switch dyn.kind {
			case dynCDAvailable:
				player.CDAvailable = true
				tryFireSkill()

			case dynDelayedJudgement:
				judgement := judgeNote(player, afk, dyn.noteType)
				if player.ComboAdd(judgement, dyn.noteType) {
					terminated = true
				}
				if !terminated {
					tryFireSkill()
				}
			}
		}
	}

	result := Result{
		Score:   player.Score,
		PlayLog: append([]string{}, deck.CardLog...),
	}
	if center != nil {
		result.CenterCard = center.CardSeriesID
	}

	return result, nil
}

func containsCard(deck *deckbuilder.Deck, cardSeriesID int) bool {
	for _, c := range deck.Cards {
		if c.CardSeriesID == cardSeriesID {
			return true
		}
	}
	return false
}

func countExcepted(deck *deckbuilder.Deck) int {
	n := 0
	for _, c := range deck.Cards {
		if c.IsExcept {
			n++
		}
	}
	return n
}
