// ABOUTME: Tests for the simulator kernel: voltage/mental formulas, combo updates, and a full play
// ABOUTME: Covers zero-note guard, Death-Note AFK promotion, and center-card auto-selection

package sim

import (
	"os"
	"path/filepath"
	"testing"

	"deckminer/internal/catalog"
	"deckminer/internal/chartio"
	"deckminer/internal/deckbuilder"
	"deckminer/internal/langid"
)

func TestPointsForLevelQuadraticThenLinear(t *testing.T) {
	cases := []struct {
		level int
		want  int
	}{
		{0, 0},
		{1, 10},   // 5*1*2
		{20, 2100}, // 5*20*21
		{21, 2300}, // 200*21-1900
	}

	for _, c := range cases {
		if got := pointsForLevel(c.level); got != c.want {
			t.Errorf("pointsForLevel(%d) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestVoltageAddPointsTracksLevel(t *testing.T) {
	v := &Voltage{}
	v.AddPoints(2100) // exactly level 20

	if v.Level() != 20 {
		t.Fatalf("Level() = %d, want 20", v.Level())
	}

	v.AddPoints(-500)
	if v.Level() >= 20 {
		t.Errorf("expected level to drop after losing points, got %d", v.Level())
	}
}

func TestVoltageFeverDoublesDisplayLevel(t *testing.T) {
	v := &Voltage{}
	v.AddPoints(10) // level 1
	if v.Level() != 1 {
		t.Fatalf("setup: Level() = %d, want 1", v.Level())
	}

	v.Fever = true
	if v.DisplayLevel() != 2 {
		t.Errorf("DisplayLevel() under fever = %d, want 2", v.DisplayLevel())
	}
}

func TestMentalSkillAddClampsToRange(t *testing.T) {
	m := &Mental{}
	m.SetHP(1000)
	m.CurrentHP = 900

	m.SkillAdd(50) // +500, clamp to max
	if m.CurrentHP != 1000 {
		t.Errorf("CurrentHP = %d, want 1000 (clamped)", m.CurrentHP)
	}

	m.SkillSub(200) // -2000, clamp to 0
	if m.CurrentHP != 0 {
		t.Errorf("CurrentHP = %d, want 0 (clamped)", m.CurrentHP)
	}
}

func TestMentalSubTerminatesAtZero(t *testing.T) {
	m := &Mental{}
	m.SetHP(100)
	m.CurrentHP = 40

	if dead := m.Sub(30); dead {
		t.Fatal("expected play to continue at hp 10")
	}
	if m.CurrentHP != 10 {
		t.Fatalf("CurrentHP = %d, want 10", m.CurrentHP)
	}

	if dead := m.Sub(30); !dead {
		t.Error("expected dead=true when damage exceeds remaining hp")
	}
	if m.CurrentHP != 0 {
		t.Errorf("CurrentHP = %d, want 0", m.CurrentHP)
	}
}

func TestComboAddResetsOnMissAndTracksAPRate(t *testing.T) {
	p := &PlayerState{APRate: 1.0, FullAPPlus: 10000, HalfAPPlus: 5000}
	p.Mental.SetHP(1000)

	for i := 0; i < 12; i++ {
		p.ComboAdd("PERFECT", chartio.Single)
	}

	if p.Combo != 12 {
		t.Fatalf("Combo = %d, want 12", p.Combo)
	}
	if p.APRate != 1.1 { // min(12,50)/10 = 1 -> 1.0+1*0.1
		t.Errorf("APRate = %v, want 1.1", p.APRate)
	}

	p.ComboAdd("MISS", chartio.Single)
	if p.Combo != 0 {
		t.Errorf("Combo after MISS = %d, want 0", p.Combo)
	}
	if p.APRate != 1.0 {
		t.Errorf("APRate after MISS = %v, want 1.0", p.APRate)
	}
}

func TestComboAddBadStillScoresNote(t *testing.T) {
	p := &PlayerState{NoteScore: deckbuilder.NoteScoreTable{Bad: 100}}
	p.Mental.SetHP(1000)

	p.ComboAdd("BAD", chartio.Single)

	if p.Score == 0 {
		t.Error("expected BAD judgement to still add note score")
	}
}

func TestJudgeNotePromotesLethalMissToPerfect(t *testing.T) {
	p := &PlayerState{}
	p.Mental.SetHP(100) // MISS damage = 50 + floor(100*0.05) = 55
	p.Mental.CurrentHP = 15 // above the 10% threshold, but a MISS here would drop hp to -40

	afk := afkState{threshold: 10}

	got := judgeNote(p, afk, chartio.Single)
	if got != "PERFECT" {
		t.Errorf("judgeNote = %q, want PERFECT (lethal-MISS promotion)", got)
	}
}

func TestJudgeNoteMissesWhileAboveThreshold(t *testing.T) {
	p := &PlayerState{}
	p.Mental.SetHP(1000)

	afk := afkState{threshold: 10}

	got := judgeNote(p, afk, chartio.Single)
	if got != "MISS" {
		t.Errorf("judgeNote = %q, want MISS (100%% hp, threshold 10)", got)
	}
}

func TestJudgeNoteInactiveAFKAlwaysPerfect(t *testing.T) {
	p := &PlayerState{}
	p.Mental.SetHP(1000)

	got := judgeNote(p, afkState{threshold: 0}, chartio.Single)
	if got != "PERFECT" {
		t.Errorf("judgeNote = %q, want PERFECT when AFK inactive", got)
	}
}

func TestSelectCenterIndexPrefersDR(t *testing.T) {
	deck := &deckbuilder.Deck{Cards: []*deckbuilder.LiveCard{
		{CharacterID: 5, Rarity: catalog.RarityR},
		{CharacterID: 5, Rarity: catalog.RarityDR},
		{CharacterID: 9, Rarity: catalog.RarityBR},
	}}

	got := selectCenterIndex(deck, 5, -1)
	if got != 1 {
		t.Errorf("selectCenterIndex = %d, want 1 (the DR match)", got)
	}
}

func TestSelectCenterIndexExplicitWins(t *testing.T) {
	deck := &deckbuilder.Deck{Cards: []*deckbuilder.LiveCard{
		{CharacterID: 5, Rarity: catalog.RarityR},
		{CharacterID: 5, Rarity: catalog.RarityDR},
	}}

	if got := selectCenterIndex(deck, 5, 0); got != 0 {
		t.Errorf("selectCenterIndex = %d, want 0 (explicit pin)", got)
	}
}

func TestRecomputeAFKThresholdIgnoresExceptedCards(t *testing.T) {
	deck := &deckbuilder.Deck{Cards: []*deckbuilder.LiveCard{
		{CardSeriesID: 1041513, IsExcept: true},
		{CardSeriesID: 1041901},
	}}

	thresholds := map[int]int{1041513: 10, 1041901: 25}

	if got := recomputeAFKThreshold(deck, thresholds); got != 25 {
		t.Errorf("recomputeAFKThreshold = %d, want 25 (excepted card ignored)", got)
	}
}

func writeJSON(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

// buildFixtureCatalog makes one simple card: always-true-condition skill
// that adds a flat voltage point amount, no center skill/attribute.
func buildFixtureCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()

	cards := `{"1000001": {"card_series_id": 1000001, "characters_id": 1011, "rarity": 3,
		"center_skill_series_id": 0, "center_attribute_series_id": 0,
		"max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100],
		"rhythm_game_skill_series_id": [1,1,1,1,1]}}`
	skills := `{"101": {"consume_ap": 0, "rhythm_game_skill_condition_ids": ["0"], "rhythm_game_skill_effect_id": [300100100]}}`
	centerSkills := `{}`
	centerAttributes := `{}`
	musics := `{}`

	src := catalog.Sources{
		Cards:            writeJSON(t, dir, "cards.json", cards),
		Skills:           writeJSON(t, dir, "skills.json", skills),
		CenterSkills:     writeJSON(t, dir, "center_skills.json", centerSkills),
		CenterAttributes: writeJSON(t, dir, "center_attributes.json", centerAttributes),
		Musics:           writeJSON(t, dir, "musics.json", musics),
	}

	cat, err := catalog.Load(src)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}

	return cat
}

func buildFixtureChart(t *testing.T) *chartio.Chart {
	t.Helper()

	raw := chartio.RawChart{
		Notes: []chartio.RawNote{
			{Type: chartio.RawSingle, Start: 1.0, End: 1.0},
			{Type: chartio.RawSingle, Start: 2.0, End: 2.0},
			{Type: chartio.RawSingle, Start: 3.0, End: 3.0},
		},
		FeverStart:   0.5,
		FeverEnd:     2.5,
		PlayTimeSecs: 4.0,
	}

	chart, err := chartio.BuildChart(raw)
	if err != nil {
		t.Fatalf("BuildChart: %v", err)
	}

	return chart
}

func TestApplyCardSkillFiresEachPairIndependently(t *testing.T) {
	p := &PlayerState{VoltageGainRate: 100}
	card := &deckbuilder.LiveCard{}
	skill := catalog.Skill{
		Conditions: []string{"0", "1000000"},       // unconditional, fever-gated (fever is false)
		Effects:    []int{300000500, 300000300}, // +500, +300 voltage points
	}

	applyCardSkill(p, skill, card, nil, langid.NewCache(), &unknownEncodingLog{})

	if p.Voltage.Points != 500 {
		t.Errorf("Voltage.Points = %d, want 500 (unconditional pair must fire even though the fever-gated pair doesn't)", p.Voltage.Points)
	}
	if card.ActiveCount != 1 {
		t.Errorf("ActiveCount = %d, want 1", card.ActiveCount)
	}
}

func TestApplyCardSkillIncrementsActiveCountEvenWhenConditionFails(t *testing.T) {
	p := &PlayerState{VoltageGainRate: 100}
	card := &deckbuilder.LiveCard{}
	skill := catalog.Skill{
		Conditions: []string{"1000000"}, // fever-gated, fever is false
		Effects:    []int{300000500},
	}

	applyCardSkill(p, skill, card, nil, langid.NewCache(), &unknownEncodingLog{})

	if p.Voltage.Points != 0 {
		t.Errorf("Voltage.Points = %d, want 0 (the only pair's condition failed)", p.Voltage.Points)
	}
	if card.ActiveCount != 1 {
		t.Errorf("ActiveCount = %d, want 1 (increments on use, not on condition pass)", card.ActiveCount)
	}
}

func TestAppendNextRateFoldsIntoUsageCountEntries(t *testing.T) {
	got := appendNextRate(nil, 0.5, 2)
	want := []float64{0.5, 0.5}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("appendNextRate(nil, 0.5, 2) = %v, want %v", got, want)
	}

	got = appendNextRate([]float64{0.2}, 0.3, 2)
	want = []float64{0.5, 0.3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("appendNextRate([0.2], 0.3, 2) = %v, want %v (fold into entry 0, append entry 1)", got, want)
	}
}

func TestApplyCardSkillThreadsUsageCountThroughNextScoreGainRate(t *testing.T) {
	p := &PlayerState{}
	card := &deckbuilder.LiveCard{}
	skill := catalog.Skill{
		Conditions: []string{"0"},
		Effects:    []int{702000050}, // T=7, D=0, U=2, value=50 -> 0.5 folded across 2 entries
	}

	applyCardSkill(p, skill, card, nil, langid.NewCache(), &unknownEncodingLog{})

	want := []float64{0.5, 0.5}
	if len(p.NextScoreGainRate) != len(want) || p.NextScoreGainRate[0] != want[0] || p.NextScoreGainRate[1] != want[1] {
		t.Fatalf("NextScoreGainRate = %v, want %v (usage_count=2 must fold/append across two entries)", p.NextScoreGainRate, want)
	}
}

func TestSimulateZeroNoteChartReturnsZeroResult(t *testing.T) {
	cat := buildFixtureCatalog(t)
	cache := langid.NewCache()

	chart := &chartio.Chart{AllNoteSize: 0}

	result, err := Simulate(cat, cache, Options{
		CardIDs:     []int{1000001, 1000001, 1000001, 1000001, 1000001, 1000001},
		Levels:      make([]deckbuilder.LevelTriple, 6),
		Chart:       chart,
		MasterLevel: 0,
		MusicType:   1,
		CenterIndex: -1,
	})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	if result.Score != 0 || len(result.PlayLog) != 0 {
		t.Errorf("expected zero-score empty-log result, got %+v", result)
	}
}

func TestSimulateBasicPlayCompletesWithNonNegativeScore(t *testing.T) {
	cat := buildFixtureCatalog(t)
	cache := langid.NewCache()
	chart := buildFixtureChart(t)

	levels := make([]deckbuilder.LevelTriple, 6)
	for i := range levels {
		levels[i] = deckbuilder.LevelTriple{CardLevel: 1, CenterSkillLevel: 1, SkillLevel: 1}
	}

	result, err := Simulate(cat, cache, Options{
		CardIDs:           []int{1000001, 1000001, 1000001, 1000001, 1000001, 1000001},
		Levels:            levels,
		Chart:             chart,
		MasterLevel:       0,
		MusicType:         1,
		CenterCharacterID: 1011,
		CenterIndex:       -1,
	})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	if result.Score < 0 {
		t.Errorf("Score = %d, want >= 0", result.Score)
	}

	if result.CenterCard != 1000001 {
		t.Errorf("CenterCard = %d, want 1000001 (only matching character)", result.CenterCard)
	}
}
