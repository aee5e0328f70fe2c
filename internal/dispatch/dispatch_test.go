// ABOUTME: Tests for batching/dedup/merge/pt computation and the full run loop
// ABOUTME: Covers best-score-wins dedup, shard round-trip, and pt formula grounding

package dispatch

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"deckminer/internal/catalog"
	"deckminer/internal/chartio"
	"deckminer/internal/config"
	"deckminer/internal/deckbuilder"
	"deckminer/internal/gen"
	"deckminer/internal/langid"
)

func writeFixtureFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func buildFixtureCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()

	cards := `{
		"2001": {"card_series_id": 2001, "characters_id": 301, "rarity": 3, "max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100], "rhythm_game_skill_series_id": [0,0,0,0,0]},
		"2002": {"card_series_id": 2002, "characters_id": 302, "rarity": 3, "max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100], "rhythm_game_skill_series_id": [0,0,0,0,0]},
		"2003": {"card_series_id": 2003, "characters_id": 303, "rarity": 3, "max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100], "rhythm_game_skill_series_id": [0,0,0,0,0]},
		"2004": {"card_series_id": 2004, "characters_id": 304, "rarity": 3, "max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100], "rhythm_game_skill_series_id": [0,0,0,0,0]},
		"2005": {"card_series_id": 2005, "characters_id": 305, "rarity": 3, "max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100], "rhythm_game_skill_series_id": [0,0,0,0,0]},
		"2006": {"card_series_id": 2006, "characters_id": 306, "rarity": 3, "max_smile": [10,10,10,10,10], "max_pure": [10,10,10,10,10], "max_cool": [10,10,10,10,10], "max_mental": [100,100,100,100,100], "rhythm_game_skill_series_id": [0,0,0,0,0]}
	}`

	src := catalog.Sources{
		Cards:            writeFixtureFile(t, dir, "cards.json", cards),
		Skills:           writeFixtureFile(t, dir, "skills.json", `{"11": {"consume_ap": 0, "rhythm_game_skill_condition_ids": ["0"], "rhythm_game_skill_effect_id": [100001000]}}`),
		CenterSkills:     writeFixtureFile(t, dir, "center_skills.json", `{}`),
		CenterAttributes: writeFixtureFile(t, dir, "center_attributes.json", `{}`),
		Musics:           writeFixtureFile(t, dir, "musics.json", `{}`),
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
		},
		FeverStart:   0.5,
		FeverEnd:     1.5,
		PlayTimeSecs: 3.0,
	}

	chart, err := chartio.BuildChart(raw)
	if err != nil {
		t.Fatalf("BuildChart: %v", err)
	}

	return chart
}

func fixtureLevels() []deckbuilder.LevelTriple {
	levels := make([]deckbuilder.LevelTriple, 6)
	for i := range levels {
		levels[i] = deckbuilder.LevelTriple{CardLevel: 1, CenterSkillLevel: 12, SkillLevel: 11}
	}
	return levels
}

func TestAccumulateKeepsBestScore(t *testing.T) {
	d := NewDispatcher(nil, nil, config.RunConfig{BatchSize: 10}, catalog.Music{}, 0, 1, nil, t.TempDir())

	low := Result{Score: 100, DeckCardIDs: []int{1, 2, 3, 4, 5, 6}}
	high := Result{Score: 200, DeckCardIDs: []int{6, 5, 4, 3, 2, 1}}

	if err := d.accumulate(low); err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if err := d.accumulate(high); err != nil {
		t.Fatalf("accumulate: %v", err)
	}

	key := gen.DeckKey(low.DeckCardIDs)
	if d.batch[key].Score != 200 {
		t.Errorf("batch[%s].Score = %d, want 200 (best wins)", key, d.batch[key].Score)
	}
}

func TestFlushShardAndMergeRoundTrip(t *testing.T) {
	shardDir := t.TempDir()
	d := NewDispatcher(nil, nil, config.RunConfig{BatchSize: 1, PtEnabled: false}, catalog.Music{}, 0, 1, nil, shardDir)

	_ = d.accumulate(Result{Score: 50, DeckCardIDs: []int{1, 2, 3, 4, 5, 6}})
	if len(d.shardPaths) != 1 {
		t.Fatalf("expected one shard flushed at BatchSize 1, got %d", len(d.shardPaths))
	}

	_ = d.accumulate(Result{Score: 75, DeckCardIDs: []int{10, 20, 30, 40, 50, 60}})

	outputPath := filepath.Join(t.TempDir(), "output.json")
	if err := d.merge("", outputPath); err != nil {
		t.Fatalf("merge: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var out []Result
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("expected 2 merged results, got %d", len(out))
	}
}

func TestMergeKeepsBestScoreAcrossShardAndPriorOutput(t *testing.T) {
	dir := t.TempDir()
	priorPath := filepath.Join(dir, "prior.json")
	priorData, _ := json.Marshal([]Result{{Score: 300, DeckCardIDs: []int{1, 2, 3, 4, 5, 6}}})
	if err := os.WriteFile(priorPath, priorData, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d := NewDispatcher(nil, nil, config.RunConfig{BatchSize: 1}, catalog.Music{}, 0, 1, nil, dir)
	_ = d.accumulate(Result{Score: 50, DeckCardIDs: []int{6, 5, 4, 3, 2, 1}}) // same key, worse score

	outputPath := filepath.Join(dir, "output.json")
	if err := d.merge(priorPath, outputPath); err != nil {
		t.Fatalf("merge: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var out []Result
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(out) != 1 || out[0].Score != 300 {
		t.Errorf("expected one merged record with the prior run's higher score 300, got %+v", out)
	}
}

func TestComputePtMatchesFormula(t *testing.T) {
	cfg := config.RunConfig{
		PtEnabled:  true,
		SeasonMode: config.SeasonNone,
		FanLevelBonus: map[int]float64{
			10: 0.70,
		},
		FanLevelOverrides: map[int]int{},
	}
	music := catalog.Music{ID: 1, CenterCharacterID: 301, SingerCharacterIDs: []int{302}}
	levels := []deckbuilder.LevelTriple{{CardLevel: 1, CenterSkillLevel: 12, SkillLevel: 11}}

	d := &Dispatcher{cfg: cfg, music: music, levels: levels}

	result := Result{Score: 1000}
	got := d.computePt(result)

	// BONUS_SFL = (1 + 0.70 + 0.70) * 1.0 = 2.4; limit break level 12 -> 1.3;
	// derive the expected value the same way computePt does, to avoid
	// asserting on an independently-rounded float literal.
	want := int(math.Floor(1000.0 * d.computeBonusSFL() * config.LimitBreakBonus(12)))
	if got != want {
		t.Errorf("computePt = %d, want %d", got, want)
	}

	if bonus := d.computeBonusSFL(); bonus < 2.39 || bonus > 2.41 {
		t.Errorf("computeBonusSFL = %v, want ~2.4", bonus)
	}
}

func TestRecomputePtRewritesWithoutRerun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")

	initial := []Result{
		{Score: 100, DeckCardIDs: []int{1, 2, 3, 4, 5, 6}, Pt: 0},
	}
	data, _ := json.Marshal(initial)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.RunConfig{FanLevelBonus: map[int]float64{10: 0.70}, FanLevelOverrides: map[int]int{}}
	music := catalog.Music{ID: 1}
	levels := []deckbuilder.LevelTriple{{CardLevel: 1, CenterSkillLevel: 1, SkillLevel: 1}}

	if err := RecomputePt(path, nil, music, cfg, levels); err != nil {
		t.Fatalf("RecomputePt: %v", err)
	}

	rewritten, err := loadResults(path)
	if err != nil {
		t.Fatalf("loadResults: %v", err)
	}

	if rewritten[0].Pt != 100 {
		t.Errorf("rewritten Pt = %d, want 100 (score * 1.0 * 1.0)", rewritten[0].Pt)
	}
}

func TestDispatcherRunProducesRankedOutput(t *testing.T) {
	cat := buildFixtureCatalog(t)
	chart := buildFixtureChart(t)
	pool := map[int][]int{
		301: {2001}, 302: {2002}, 303: {2003},
		304: {2004}, 305: {2005}, 306: {2006},
	}
	characters := []int{301, 302, 303, 304, 305, 306}

	it := gen.NewIterator(cat, langid.NewCache(), pool, characters, false, gen.Filters{})

	cfg := config.RunConfig{
		BatchSize:  1_000_000,
		ChunkSize:  4,
		NumWorkers: 2,
		PtEnabled:  false,
	}

	shardDir := t.TempDir()
	outputPath := filepath.Join(t.TempDir(), "output.json")

	d := NewDispatcher(cat, chart, cfg, catalog.Music{}, 0, 1, fixtureLevels(), shardDir)
	if err := d.Run(context.Background(), it, "", outputPath); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var out []Result
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(out) == 0 {
		t.Fatal("expected at least one ranked result")
	}

	for _, r := range out {
		if r.Score < 0 {
			t.Errorf("result %+v has negative score", r)
		}
		if len(r.DeckCardIDs) != 6 {
			t.Errorf("result %+v does not have 6 deck cards", r)
		}
	}
}
