// ABOUTME: Tests for catalog loading and lookup
// ABOUTME: Exercises the fatal-on-malformed-or-missing-file startup contract

package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeJSON(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func testSources(t *testing.T) Sources {
	t.Helper()

	dir := t.TempDir()

	cards := `{"1011501": {"card_series_id": 1011501, "name": "Sachi", "characters_id": 1011, "rarity": 8,
		"center_skill_series_id": 100, "center_attribute_series_id": 200,
		"max_smile": [10,20,30,40,50], "max_pure": [10,20,30,40,50], "max_cool": [10,20,30,40,50], "max_mental": [100,100,100,100,100],
		"rhythm_game_skill_series_id": [300,300,301,301,302]}}`
	skills := `{"30014": {"consume_ap": 5, "rhythm_game_skill_condition_ids": ["0"], "rhythm_game_skill_effect_id": [100000000]}}`
	centerSkills := `{"10014": {"center_skill_condition_ids": ["1"], "center_skill_effect_id": [200000000]}}`
	centerAttributes := `{"201": {"target_ids": ["50001"], "center_attribute_effect_id": [10000000]}}`
	musics := `{"405121": {"id": 405121, "title": "Heart ni Q", "music_type": 1, "center_character_id": 1011, "singer_character_id": [1011,1021], "play_time_ms": 90000, "fever_section_no": 1}}`

	return Sources{
		Cards:            writeJSON(t, dir, "cards.json", cards),
		Skills:           writeJSON(t, dir, "skills.json", skills),
		CenterSkills:     writeJSON(t, dir, "center_skills.json", centerSkills),
		CenterAttributes: writeJSON(t, dir, "center_attributes.json", centerAttributes),
		Musics:           writeJSON(t, dir, "musics.json", musics),
	}
}

func TestLoadAndLookup(t *testing.T) {
	cat, err := Load(testSources(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	card, ok := cat.Card(1011501)
	if !ok {
		t.Fatal("expected card 1011501 to be found")
	}

	if card.Rarity != RarityDR {
		t.Errorf("Rarity = %v, want DR", card.Rarity)
	}

	if _, ok := cat.Skill(300, 14); !ok {
		t.Error("expected skill 30014 to be found")
	}

	if _, ok := cat.CenterSkill(100, 14); !ok {
		t.Error("expected center skill 10014 to be found")
	}

	if _, ok := cat.CenterAttribute(200); !ok {
		t.Error("expected center attribute 201 to be found")
	}

	if _, ok := cat.Music(405121); !ok {
		t.Error("expected music 405121 to be found")
	}

	if _, ok := cat.Card(9999999); ok {
		t.Error("expected missing card to be absent")
	}
}

func TestLoadMissingFile(t *testing.T) {
	src := testSources(t)
	src.Cards = filepath.Join(t.TempDir(), "nonexistent.json")

	_, err := Load(src)
	if err == nil {
		t.Fatal("expected error for missing cards file")
	}

	var loadErr *CatalogLoadError
	if !asCatalogLoadError(err, &loadErr) {
		t.Errorf("expected CatalogLoadError, got %T: %v", err, err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	src := testSources(t)
	src.Skills = writeJSON(t, dir, "bad_skills.json", "{not valid json")

	_, err := Load(src)
	if err == nil {
		t.Fatal("expected error for malformed skills file")
	}
}

func asCatalogLoadError(err error, target **CatalogLoadError) bool {
	e, ok := err.(*CatalogLoadError)
	if ok {
		*target = e
	}

	return ok
}
