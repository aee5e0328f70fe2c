// ABOUTME: Parses packed-integer condition/effect/target-selector IDs into tagged values
// ABOUTME: Pure, memoizable parsers; dispatch by tagged type, never by dynamic inheritance

// Package langid implements the two packed-integer mini-languages that
// drive card skills, center skills, and center attributes: condition IDs
// (when does a skill fire) and effect IDs (what it does). Every Parse*
// function here is a pure function of its input — safe to memoize, and
// independent of wall-clock time or shared mutable state. Per-worker
// memoization is left to the caller (see Cache) rather than a shared
// global table, since the result of parsing never varies.
package langid

import (
	"fmt"
	"strconv"
	"strings"
)

// AlwaysTrueCondition is the literal "0" condition: always satisfied.
const AlwaysTrueCondition = "0"

// ConditionType is a card-skill condition's tagged type (7-digit ID,
// first digit).
type ConditionType int

const (
	ConditionAlwaysTrue ConditionType = iota
	ConditionFeverTime
	ConditionVoltageLevel
	ConditionMentalRate
	ConditionUsedAllSkillCount
	ConditionUsedSkillCount
)

// Operator is the comparison direction encoded in a condition's D digit.
type Operator int

const (
	OpNone Operator = iota
	OpGE
	OpLE
)

// Condition is one parsed card-skill (or center-skill) condition field.
type Condition struct {
	Type  ConditionType
	Op    Operator
	Value int
}

// ParseCondition parses a single 7-digit condition field (or the literal
// "0"). Multiple comma-joined fields are not handled here — see
// ParseConditionGroup.
func ParseCondition(id string) (Condition, error) {
	if id == AlwaysTrueCondition {
		return Condition{Type: ConditionAlwaysTrue}, nil
	}

	if len(id) != 7 {
		return Condition{}, fmt.Errorf("langid: condition id %q must be 7 digits or %q", id, AlwaysTrueCondition)
	}

	t, err := strconv.Atoi(id[0:1])
	if err != nil {
		return Condition{}, fmt.Errorf("langid: condition id %q: bad type digit: %w", id, err)
	}

	d, err := strconv.Atoi(id[1:2])
	if err != nil {
		return Condition{}, fmt.Errorf("langid: condition id %q: bad direction digit: %w", id, err)
	}

	value, err := strconv.Atoi(id[2:])
	if err != nil {
		return Condition{}, fmt.Errorf("langid: condition id %q: bad value: %w", id, err)
	}

	var op Operator
	if d == 1 {
		op = OpGE
	} else if d == 2 {
		op = OpLE
	}

	switch t {
	case 1:
		return Condition{Type: ConditionFeverTime}, nil
	case 2:
		return Condition{Type: ConditionVoltageLevel, Op: op, Value: value}, nil
	case 3:
		return Condition{Type: ConditionMentalRate, Op: op, Value: value}, nil
	case 4:
		return Condition{Type: ConditionUsedAllSkillCount, Op: op, Value: value}, nil
	case 5:
		return Condition{Type: ConditionUsedSkillCount, Op: op, Value: value}, nil
	default:
		return Condition{}, fmt.Errorf("langid: condition id %q: unknown type %d", id, t)
	}
}

// ParseConditionGroup splits a comma-joined condition field into its
// individual conditions, which are combined with logical AND.
func ParseConditionGroup(field string) ([]Condition, error) {
	parts := strings.Split(field, ",")
	out := make([]Condition, 0, len(parts))

	for _, p := range parts {
		c, err := ParseCondition(p)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, nil
}

// EffectType is a card-skill (or center-skill) effect's tagged type
// (9-digit ID, first digit).
type EffectType int

const (
	EffectAPChange EffectType = iota + 1
	EffectScoreGain
	EffectVoltagePointChange
	EffectMentalRateChange
	EffectDeckReset
	EffectCardExcept
	EffectNextScoreGainRate // labeled NextAPGainRateChange (T=7) in the source data; kept per the observed behavior
	EffectNextVoltageGainRate
)

// Effect is one parsed card-skill/center-skill effect.
type Effect struct {
	Type       EffectType
	Direction  int // 0 = gain/add, 1 = subtract, meaning varies by Type
	Value      int
	UsageCount int // only set for T=7/8 (TDUAAAAAA form)
}

// ParseEffect parses a 9-digit card-skill or center-skill effect id.
// T∈{7,8} use the TDUAAAAAA layout (usage-count digit, 6-digit value);
// all other types use TDAAAAAAA (7-digit value).
func ParseEffect(id int) (Effect, error) {
	s := strconv.Itoa(id)
	if len(s) != 9 {
		return Effect{}, fmt.Errorf("langid: effect id %d must be 9 digits", id)
	}

	t, err := strconv.Atoi(s[0:1])
	if err != nil {
		return Effect{}, fmt.Errorf("langid: effect id %d: bad type digit: %w", id, err)
	}

	d, err := strconv.Atoi(s[1:2])
	if err != nil {
		return Effect{}, fmt.Errorf("langid: effect id %d: bad direction digit: %w", id, err)
	}

	effType := EffectType(t)

	if effType == EffectNextScoreGainRate || effType == EffectNextVoltageGainRate {
		u, err := strconv.Atoi(s[2:3])
		if err != nil {
			return Effect{}, fmt.Errorf("langid: effect id %d: bad usage-count digit: %w", id, err)
		}

		value, err := strconv.Atoi(s[3:])
		if err != nil {
			return Effect{}, fmt.Errorf("langid: effect id %d: bad value: %w", id, err)
		}

		return Effect{Type: effType, Direction: d, Value: value, UsageCount: u}, nil
	}

	value, err := strconv.Atoi(s[2:])
	if err != nil {
		return Effect{}, fmt.Errorf("langid: effect id %d: bad value: %w", id, err)
	}

	switch effType {
	case EffectAPChange, EffectScoreGain, EffectVoltagePointChange, EffectMentalRateChange,
		EffectDeckReset, EffectCardExcept:
		return Effect{Type: effType, Direction: d, Value: value}, nil
	default:
		return Effect{}, fmt.Errorf("langid: effect id %d: unknown type %d", id, t)
	}
}

// TargetType is a center-attribute target selector's tagged type
// (5-digit ID, first digit).
type TargetType int

const (
	TargetMember TargetType = iota + 1
	TargetUnit
	TargetGeneration
	TargetStyleType
	TargetAll
)

// TargetSelector is one parsed target-selector field.
type TargetSelector struct {
	Type  TargetType
	Value int
}

// ParseTargetSelector parses a single 5-digit target selector id.
func ParseTargetSelector(id string) (TargetSelector, error) {
	if len(id) != 5 {
		return TargetSelector{}, fmt.Errorf("langid: target selector %q must be 5 digits", id)
	}

	t, err := strconv.Atoi(id[0:1])
	if err != nil {
		return TargetSelector{}, fmt.Errorf("langid: target selector %q: bad type digit: %w", id, err)
	}

	value, err := strconv.Atoi(id[1:])
	if err != nil {
		return TargetSelector{}, fmt.Errorf("langid: target selector %q: bad value: %w", id, err)
	}

	switch TargetType(t) {
	case TargetMember, TargetUnit, TargetGeneration, TargetStyleType, TargetAll:
		return TargetSelector{Type: TargetType(t), Value: value}, nil
	default:
		return TargetSelector{}, fmt.Errorf("langid: target selector %q: unknown type %d", id, t)
	}
}

// ParseTargetSelectorGroup splits a comma-joined target selector field;
// selectors combine with logical OR.
func ParseTargetSelectorGroup(field string) ([]TargetSelector, error) {
	parts := strings.Split(field, ",")
	out := make([]TargetSelector, 0, len(parts))

	for _, p := range parts {
		sel, err := ParseTargetSelector(p)
		if err != nil {
			return nil, err
		}

		out = append(out, sel)
	}

	return out, nil
}

// CenterAttributeEffectType is a center-attribute effect's tagged type.
// Values 1..9 are encoded with a 1-digit base; 10..13 with a 2-digit base.
type CenterAttributeEffectType int

const (
	CAEffectSmileRateChange CenterAttributeEffectType = iota + 1
	CAEffectPureRateChange
	CAEffectCoolRateChange
	CAEffectSmileValueChange
	CAEffectPureValueChange
	CAEffectCoolValueChange
	CAEffectMentalRateChange
	CAEffectMentalValueChange
	CAEffectConsumeAPChange
	CAEffectCoolTimeChange
	CAEffectAPGainRateChange
	CAEffectVoltageGainRateChange
	CAEffectAPRateChangeResetGuard
)

// CenterAttributeEffect is one parsed center-attribute effect.
type CenterAttributeEffect struct {
	Type      CenterAttributeEffectType
	Direction int
	Value     int
}

// ParseCenterAttributeEffect parses an 8- or 9-digit center-attribute
// effect id: 1-digit type base for T∈1..9, 2-digit base for T∈{10..13}.
func ParseCenterAttributeEffect(id int) (CenterAttributeEffect, error) {
	s := strconv.Itoa(id)

	var (
		typeDigits int
		rest       string
	)

	switch len(s) {
	case 8:
		typeDigits = 1
	case 9:
		typeDigits = 2
	default:
		return CenterAttributeEffect{}, fmt.Errorf("langid: center-attribute effect id %d must be 8 or 9 digits", id)
	}

	base, err := strconv.Atoi(s[:typeDigits])
	if err != nil {
		return CenterAttributeEffect{}, fmt.Errorf("langid: center-attribute effect id %d: bad type: %w", id, err)
	}

	rest = s[typeDigits:]
	if len(rest) < 2 {
		return CenterAttributeEffect{}, fmt.Errorf("langid: center-attribute effect id %d: too short", id)
	}

	d, err := strconv.Atoi(rest[0:1])
	if err != nil {
		return CenterAttributeEffect{}, fmt.Errorf("langid: center-attribute effect id %d: bad direction digit: %w", id, err)
	}

	value, err := strconv.Atoi(rest[1:])
	if err != nil {
		return CenterAttributeEffect{}, fmt.Errorf("langid: center-attribute effect id %d: bad value: %w", id, err)
	}

	t := CenterAttributeEffectType(base)
	if t < CAEffectSmileRateChange || t > CAEffectAPRateChangeResetGuard {
		return CenterAttributeEffect{}, fmt.Errorf("langid: center-attribute effect id %d: unknown type %d", id, base)
	}

	return CenterAttributeEffect{Type: t, Direction: d, Value: value}, nil
}

// CenterSkillConditionType is a center-skill condition's tagged type
// (7-digit ID, first digit).
type CenterSkillConditionType int

const (
	CenterConditionLiveStart CenterSkillConditionType = iota + 1
	CenterConditionLiveEnd
	CenterConditionFeverStart
	CenterConditionFeverTime
	CenterConditionVoltageLevel
	CenterConditionMentalRate
	CenterConditionAfterUsedAllSkillCount
)

// CenterSkillCondition is one parsed center-skill condition field.
type CenterSkillCondition struct {
	Type  CenterSkillConditionType
	Op    Operator
	Value int
}

// ParseCenterSkillCondition parses a single 7-digit center-skill
// condition field.
func ParseCenterSkillCondition(id string) (CenterSkillCondition, error) {
	if len(id) != 7 {
		return CenterSkillCondition{}, fmt.Errorf("langid: center-skill condition %q must be 7 digits", id)
	}

	t, err := strconv.Atoi(id[0:1])
	if err != nil {
		return CenterSkillCondition{}, fmt.Errorf("langid: center-skill condition %q: bad type digit: %w", id, err)
	}

	d, err := strconv.Atoi(id[1:2])
	if err != nil {
		return CenterSkillCondition{}, fmt.Errorf("langid: center-skill condition %q: bad direction digit: %w", id, err)
	}

	value, err := strconv.Atoi(id[2:])
	if err != nil {
		return CenterSkillCondition{}, fmt.Errorf("langid: center-skill condition %q: bad value: %w", id, err)
	}

	var op Operator
	if d == 1 {
		op = OpGE
	} else if d == 2 {
		op = OpLE
	}

	ct := CenterSkillConditionType(t)
	if ct < CenterConditionLiveStart || ct > CenterConditionAfterUsedAllSkillCount {
		return CenterSkillCondition{}, fmt.Errorf("langid: center-skill condition %q: unknown type %d", id, t)
	}

	return CenterSkillCondition{Type: ct, Op: op, Value: value}, nil
}

// ParseCenterSkillConditionGroup splits a comma-joined field into its
// individual conditions, combined with logical AND.
func ParseCenterSkillConditionGroup(field string) ([]CenterSkillCondition, error) {
	parts := strings.Split(field, ",")
	out := make([]CenterSkillCondition, 0, len(parts))

	for _, p := range parts {
		c, err := ParseCenterSkillCondition(p)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, nil
}

// Cache memoizes parse results for one worker's lifetime. It is not
// safe for concurrent use — each worker goroutine owns its own Cache,
// matching the "thread-local, not global" guidance for hot-path tables.
type Cache struct {
	conditions       map[string][]Condition
	effects          map[int]Effect
	targets          map[string][]TargetSelector
	centerAttributes map[int]CenterAttributeEffect
	centerConditions map[string][]CenterSkillCondition
}

// NewCache constructs an empty per-worker memoization cache.
func NewCache() *Cache {
	return &Cache{
		conditions:       make(map[string][]Condition),
		effects:          make(map[int]Effect),
		targets:          make(map[string][]TargetSelector),
		centerAttributes: make(map[int]CenterAttributeEffect),
		centerConditions: make(map[string][]CenterSkillCondition),
	}
}

// Condition returns the memoized parse of a comma-joined condition field.
func (c *Cache) Condition(field string) ([]Condition, error) {
	if v, ok := c.conditions[field]; ok {
		return v, nil
	}

	v, err := ParseConditionGroup(field)
	if err != nil {
		return nil, err
	}

	c.conditions[field] = v

	return v, nil
}

// Effect returns the memoized parse of an effect id.
func (c *Cache) Effect(id int) (Effect, error) {
	if v, ok := c.effects[id]; ok {
		return v, nil
	}

	v, err := ParseEffect(id)
	if err != nil {
		return Effect{}, err
	}

	c.effects[id] = v

	return v, nil
}

// TargetSelectors returns the memoized parse of a comma-joined target field.
func (c *Cache) TargetSelectors(field string) ([]TargetSelector, error) {
	if v, ok := c.targets[field]; ok {
		return v, nil
	}

	v, err := ParseTargetSelectorGroup(field)
	if err != nil {
		return nil, err
	}

	c.targets[field] = v

	return v, nil
}

// CenterAttributeEffect returns the memoized parse of a center-attribute effect id.
func (c *Cache) CenterAttributeEffect(id int) (CenterAttributeEffect, error) {
	if v, ok := c.centerAttributes[id]; ok {
		return v, nil
	}

	v, err := ParseCenterAttributeEffect(id)
	if err != nil {
		return CenterAttributeEffect{}, err
	}

	c.centerAttributes[id] = v

	return v, nil
}

// CenterSkillCondition returns the memoized parse of a comma-joined
// center-skill condition field.
func (c *Cache) CenterSkillCondition(field string) ([]CenterSkillCondition, error) {
	if v, ok := c.centerConditions[field]; ok {
		return v, nil
	}

	v, err := ParseCenterSkillConditionGroup(field)
	if err != nil {
		return nil, err
	}

	c.centerConditions[field] = v

	return v, nil
}
