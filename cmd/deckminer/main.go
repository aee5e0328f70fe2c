// ABOUTME: Entry point wiring the catalog, deck generator, dispatcher, and optimizer together
// ABOUTME: Flag surface is intentionally thin — building RunConfig from flags/YAML is the driver's job, not a library concern

// Command deckminer drives one dispatcher run per invocation: load the
// static catalog and a chart, enumerate and simulate every deck the
// generator's filters allow, and rank the results. A debug mode simulates
// one explicit six-card deck without enumeration. Multi-song optimization
// is a separate step over two or three already-ranked result files.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"deckminer/internal/catalog"
	"deckminer/internal/chartio"
	"deckminer/internal/config"
	"deckminer/internal/deckbuilder"
	"deckminer/internal/dispatch"
	"deckminer/internal/gen"
	"deckminer/internal/langid"
	"deckminer/internal/optimizer"
)

// resultPaths collects the repeatable -optimize flag's values, one
// per-song result file each.
type resultPaths []string

func (r *resultPaths) String() string { return strings.Join(*r, ",") }
func (r *resultPaths) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cardsPath := flag.String("cards", "", "path to cards.json")
	skillsPath := flag.String("skills", "", "path to skills.json")
	centerSkillsPath := flag.String("center-skills", "", "path to center_skills.json")
	centerAttrsPath := flag.String("center-attributes", "", "path to center_attributes.json")
	musicsPath := flag.String("musics", "", "path to musics.json")
	configPath := flag.String("config", "", "path to deckminer.toml (defaults if unset)")
	chartPath := flag.String("chart", "", "path to a pre-parsed chart JSON file")
	musicID := flag.Int("music-id", 0, "music id to simulate against the given chart")
	masterLevel := flag.Int("master-level", 0, "chart difficulty master level")
	shardDir := flag.String("shard-dir", "./shards", "directory for intermediate shard files")
	outputPath := flag.String("output", "./output.json", "ranked output file")
	priorOutputPath := flag.String("prior-output", "", "previous output file to merge for incremental runs")
	debugDeck := flag.String("debug-deck", "", "comma-separated 6 card ids: simulate one explicit deck instead of enumerating")
	debugCenter := flag.Int("debug-center", -1, "explicit center card index for -debug-deck (-1 = auto-select)")
	recomputePt := flag.String("recompute-pt", "", "rewrite an existing output file's pt field from the current Fan-Level config, without re-simulating")

	var optimizeResults resultPaths
	flag.Var(&optimizeResults, "optimize", "a per-song ranked result file (repeat 2 or 3 times); when given, runs the multi-song optimizer and exits")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config load error: %v", err)
		return 1
	}

	if len(optimizeResults) > 0 {
		return runOptimize(optimizeResults)
	}

	cat, err := loadCatalog(*cardsPath, *skillsPath, *centerSkillsPath, *centerAttrsPath, *musicsPath)
	if err != nil {
		log.Printf("catalog load error: %v", err)
		return 1
	}

	if *recomputePt != "" {
		music, _ := cat.Music(*musicID)
		levels := uniformLevels(cfg)
		if err := dispatch.RecomputePt(*recomputePt, cat, music, cfg, levels); err != nil {
			log.Printf("recompute-pt error: %v", err)
			return 1
		}
		return 0
	}

	chart, err := loadChart(*chartPath)
	if err != nil {
		log.Printf("chart load error: %v", err)
		return 1
	}

	music, ok := cat.Music(*musicID)
	if !ok {
		log.Printf("music id %d not found in catalog", *musicID)
		return 1
	}

	if *debugDeck != "" {
		return runDebugDeck(cat, chart, cfg, music, *masterLevel, *debugDeck, *debugCenter)
	}

	return runDispatch(cat, chart, cfg, music, *masterLevel, *shardDir, *priorOutputPath, *outputPath)
}

func loadCatalog(cards, skills, centerSkills, centerAttrs, musics string) (*catalog.Catalog, error) {
	return catalog.Load(catalog.Sources{
		Cards:            cards,
		Skills:           skills,
		CenterSkills:     centerSkills,
		CenterAttributes: centerAttrs,
		Musics:           musics,
	})
}

func loadChart(path string) (*chartio.Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chart %s: %w", path, err)
	}

	var raw chartio.RawChart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse chart %s: %w", path, err)
	}

	return chartio.BuildChart(raw)
}

func uniformLevels(cfg config.RunConfig) []deckbuilder.LevelTriple {
	levels := make([]deckbuilder.LevelTriple, 6)
	for i := range levels {
		levels[i] = deckbuilder.LevelTriple{
			CardLevel:        cfg.DefaultCardLevel,
			CenterSkillLevel: cfg.DefaultCenterSkillLevel,
			SkillLevel:       cfg.DefaultSkillLevel,
		}
	}
	return levels
}

func runDebugDeck(cat *catalog.Catalog, chart *chartio.Chart, cfg config.RunConfig, music catalog.Music, masterLevel int, deckFlag string, centerIndex int) int {
	ids, err := parseCardIDs(deckFlag)
	if err != nil {
		log.Printf("debug-deck error: %v", err)
		return 1
	}

	it := &singleTaskSource{task: &gen.Task{CardIDs: ids, CenterIndex: centerIndex}}

	tmpDir, err := os.MkdirTemp("", "deckminer-debug-*")
	if err != nil {
		log.Printf("debug-deck error: %v", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	d := dispatch.NewDispatcher(cat, chart, cfg, music, masterLevel, music.MusicType, uniformLevels(cfg), tmpDir)
	outPath := tmpDir + "/debug-result.json"
	if err := d.Run(context.Background(), it, "", outPath); err != nil {
		log.Printf("debug-deck simulation error: %v", err)
		return 1
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		log.Printf("debug-deck error: %v", err)
		return 1
	}

	fmt.Println(string(data))
	return 0
}

// singleTaskSource yields exactly one task, satisfying dispatch.Source for
// the debug single-deck mode.
type singleTaskSource struct {
	task *gen.Task
	done bool
}

func (s *singleTaskSource) Next(ctx context.Context) (*gen.Task, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	return s.task, nil
}

func parseCardIDs(flagValue string) ([]int, error) {
	parts := strings.Split(flagValue, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 comma-separated card ids, got %d", len(parts))
	}

	ids := make([]int, 6)
	for i, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("card id %q: %w", p, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func runDispatch(cat *catalog.Catalog, chart *chartio.Chart, cfg config.RunConfig, music catalog.Music, masterLevel int, shardDir, priorOutputPath, outputPath string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	pool := buildCharacterPool(cat)
	characters := make([]int, 0, len(pool))
	for c := range pool {
		characters = append(characters, c)
	}

	previouslySimulated, err := gen.LoadPreviouslySimulated(priorOutputPath)
	if err != nil {
		log.Printf("prior results load error: %v", err)
		return 1
	}

	filters := gen.Filters{
		RequiredSkillTags:   cfg.RequiredSkillTags,
		ForbiddenCardRules:  cfg.ForbiddenCardRules,
		PreviouslySimulated: previouslySimulated,
	}

	it := gen.NewIterator(cat, langid.NewCache(), pool, characters, true, filters)

	d := dispatch.NewDispatcher(cat, chart, cfg, music, masterLevel, music.MusicType, uniformLevels(cfg), shardDir)
	if err := d.Run(ctx, it, priorOutputPath, outputPath); err != nil {
		log.Printf("dispatch error: %v", err)
		return 1
	}

	return 0
}

// buildCharacterPool groups every catalog card by character id, the
// generator's candidate pool shape.
func buildCharacterPool(cat *catalog.Catalog) map[int][]int {
	pool := map[int][]int{}
	for _, id := range cat.CardIDs() {
		card, ok := cat.Card(id)
		if !ok {
			continue
		}
		pool[card.CharacterID] = append(pool[card.CharacterID], id)
	}
	return pool
}

func runOptimize(paths resultPaths) int {
	lists := make([][]dispatch.Result, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Printf("optimize: read %s: %v", p, err)
			return 1
		}

		var records []dispatch.Result
		if err := json.Unmarshal(data, &records); err != nil {
			log.Printf("optimize: parse %s: %v", p, err)
			return 1
		}

		lists = append(lists, records)
	}

	combo, err := optimizer.Solve(lists)
	if err != nil {
		log.Printf("optimize error: %v", err)
		return 1
	}

	fmt.Println(optimizer.FormatBestCombination(combo, nil))
	return 0
}
