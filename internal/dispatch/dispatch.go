// ABOUTME: Worker-pool-driven task distribution: batches results to shard files, merges, computes pt
// ABOUTME: Submit/collect shape adapted from the genetic algorithm's fitness-evaluation pool

// Package dispatch drives the deck generator's task stream across a worker
// pool, accumulating per-task simulation results in memory until BATCH_SIZE
// is crossed, at which point the batch is deduplicated by sorted card-id
// sequence (best score wins) and persisted to a shard file. Once every task
// completes, shards (and any prior output, for incremental runs) are
// merged, pt-augmented, and ranked into the final output.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"deckminer/internal/catalog"
	"deckminer/internal/chartio"
	"deckminer/internal/config"
	"deckminer/internal/deckbuilder"
	"deckminer/internal/gen"
	"deckminer/internal/langid"
	"deckminer/internal/logging"
	"deckminer/internal/sim"
	"deckminer/internal/workerpool"
)

// Result is one task's completed simulation, serialized to shard and
// output files.
type Result struct {
	Score        int      `json:"score"`
	CenterCardID int      `json:"center_card_id"`
	DeckCardIDs  []int    `json:"deck_card_ids"`
	PlayLog      []string `json:"play_log,omitempty"`
	Pt           int      `json:"pt,omitempty"`
}

// Source supplies work items to the dispatcher; *gen.Iterator implements
// it directly.
type Source interface {
	Next(ctx context.Context) (*gen.Task, error)
}

// Dispatcher runs a deck generator's tasks across a worker pool, batches
// results to shard files, and merges shards into a final ranked output.
//
// Levels is applied uniformly to every task's six cards: per-card level
// overrides are not a dispatcher concern. Pt
// computation's limit-break lookup therefore reads Levels[0] directly,
// which is exact under this uniform-levels assumption.
type Dispatcher struct {
	cat         *catalog.Catalog
	chart       *chartio.Chart
	cfg         config.RunConfig
	music       catalog.Music
	masterLevel int
	musicType   int
	levels      []deckbuilder.LevelTriple

	shardDir   string
	shardPaths []string
	batch      map[string]Result
	taskIndex  int

	cachePool sync.Pool
}

// NewDispatcher builds a dispatcher for one song. music supplies the
// singer roster for pt's BONUS_SFL term; its zero value has no singers,
// so BONUS_SFL collapses to 1.0.
func NewDispatcher(cat *catalog.Catalog, chart *chartio.Chart, cfg config.RunConfig, music catalog.Music, masterLevel, musicType int, levels []deckbuilder.LevelTriple, shardDir string) *Dispatcher {
	return &Dispatcher{
		cat:         cat,
		chart:       chart,
		cfg:         cfg,
		music:       music,
		masterLevel: masterLevel,
		musicType:   musicType,
		levels:      levels,
		shardDir:    shardDir,
		batch:       make(map[string]Result),
		cachePool:   sync.Pool{New: func() any { return langid.NewCache() }},
	}
}

// Run drains source, simulating every task across cfg.NumWorkers workers.
// priorOutputPath may be empty; when set and present, its records are
// merged into the final output (best score wins) to support incremental
// runs.
func (d *Dispatcher) Run(ctx context.Context, source Source, priorOutputPath, outputPath string) error {
	pool := workerpool.New(d.cfg.NumWorkers, d.cfg.ChunkSize)

	var (
		mu       sync.Mutex
		flushErr error
	)

	for {
		task, err := source.Next(ctx)
		if err != nil {
			pool.Close()
			return fmt.Errorf("dispatch: source: %w", err)
		}
		if task == nil {
			break
		}

		t := *task
		idx := d.taskIndex
		d.taskIndex++

		pool.Submit(func() {
			cache, _ := d.cachePool.Get().(*langid.Cache)
			defer d.cachePool.Put(cache)

			result, err := sim.Simulate(d.cat, cache, sim.Options{
				CardIDs:             t.CardIDs,
				Levels:              d.levels,
				Chart:               d.chart,
				MasterLevel:         d.masterLevel,
				MusicType:           d.musicType,
				CenterIndex:         t.CenterIndex,
				DeathNoteThresholds: d.cfg.DeathNoteThresholds,
			})
			if err != nil {
				logging.L.Warn().Err(err).Int("task", idx).Msg("simulation failed")
				return
			}

			r := Result{
				Score:        result.Score,
				CenterCardID: result.CenterCard,
				DeckCardIDs:  append([]int(nil), t.CardIDs...),
				PlayLog:      result.PlayLog,
			}

			mu.Lock()
			if err := d.accumulate(r); err != nil && flushErr == nil {
				flushErr = err
			}
			mu.Unlock()
		})
	}

	pool.Wait()
	pool.Close()

	if flushErr != nil {
		return flushErr
	}

	if len(d.batch) > 0 {
		if err := d.flushShard(); err != nil {
			return err
		}
	}

	return d.merge(priorOutputPath, outputPath)
}

// accumulate folds one result into the in-memory batch, keeping the best
// score per dedup key, and flushes to a shard file once BatchSize is hit.
// Caller must hold the dispatcher's lock.
func (d *Dispatcher) accumulate(r Result) error {
	key := gen.DeckKey(r.DeckCardIDs)

	if existing, ok := d.batch[key]; !ok || r.Score > existing.Score {
		d.batch[key] = r
	}

	if len(d.batch) >= d.cfg.BatchSize {
		return d.flushShard()
	}

	return nil
}

// flushShard persists the current in-memory batch to a new shard file and
// clears it. Caller must hold the dispatcher's lock.
func (d *Dispatcher) flushShard() error {
	if err := os.MkdirAll(d.shardDir, 0o755); err != nil {
		return fmt.Errorf("dispatch: mkdir shard dir: %w", err)
	}

	path := filepath.Join(d.shardDir, fmt.Sprintf("shard-%04d.json", len(d.shardPaths)))

	records := make([]Result, 0, len(d.batch))
	for _, r := range d.batch {
		records = append(records, r)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("dispatch: marshal shard: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dispatch: write shard %s: %w", path, err)
	}

	d.shardPaths = append(d.shardPaths, path)
	d.batch = make(map[string]Result)

	return nil
}

// merge loads every shard (and, if present, priorOutputPath), re-dedups by
// sorted card-id sequence keeping the best score, optionally pt-augments,
// sorts descending, and writes outputPath.
func (d *Dispatcher) merge(priorOutputPath, outputPath string) error {
	merged := make(map[string]Result)

	for _, path := range d.shardPaths {
		records, err := loadResults(path)
		if err != nil {
			return err
		}

		foldResults(merged, records)
	}

	if priorOutputPath != "" {
		records, err := loadResults(priorOutputPath)
		switch {
		case err == nil:
			foldResults(merged, records)
		case os.IsNotExist(err):
			// no prior output; nothing to merge
		default:
			return err
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		if d.cfg.PtEnabled {
			r.Pt = d.computePt(r)
		}

		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if d.cfg.PtEnabled {
			return out[i].Pt > out[j].Pt
		}

		return out[i].Score > out[j].Score
	})

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("dispatch: marshal output: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("dispatch: mkdir output dir: %w", err)
	}

	return os.WriteFile(outputPath, data, 0o644)
}

func loadResults(path string) ([]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []Result
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("dispatch: parse %s: %w", path, err)
	}

	return records, nil
}

func foldResults(into map[string]Result, records []Result) {
	for _, r := range records {
		key := gen.DeckKey(r.DeckCardIDs)
		if existing, ok := into[key]; !ok || r.Score > existing.Score {
			into[key] = r
		}
	}
}

// computeBonusSFL is BONUS_SFL: (1 + sum of each singer's Fan-Level bonus)
// times the season's singing-count correction. Singers are the music's
// listed singer characters plus its center character — not the per-deck
// chosen center card, which may differ.
func (d *Dispatcher) computeBonusSFL() float64 {
	singers := map[int]bool{}
	for _, s := range d.music.SingerCharacterIDs {
		singers[s] = true
	}
	if d.music.CenterCharacterID != 0 {
		singers[d.music.CenterCharacterID] = true
	}

	sum := 0.0
	for charID := range singers {
		fanLevel := 10
		if lv, ok := d.cfg.FanLevelOverrides[charID]; ok {
			fanLevel = lv
		}
		if fanLevel < 1 {
			fanLevel = 1
		} else if fanLevel > 10 {
			fanLevel = 10
		}

		sum += d.cfg.FanLevelBonus[fanLevel]
	}

	return (1.0 + sum) * config.SingingCountCorrection(d.cfg.SeasonMode, len(singers))
}

// computePt is floor(score * BONUS_SFL * LIMITBREAK_BONUS[limit_break_level]).
func (d *Dispatcher) computePt(r Result) int {
	limitBreakLevel := 0
	if len(d.levels) > 0 {
		limitBreakLevel = d.levels[0].CenterSkillLevel
		if d.levels[0].SkillLevel > limitBreakLevel {
			limitBreakLevel = d.levels[0].SkillLevel
		}
	}

	pt := float64(r.Score) * d.computeBonusSFL() * config.LimitBreakBonus(limitBreakLevel)

	return int(math.Floor(pt))
}

// RecomputePt reloads a results file and rewrites every record's Pt field
// using cfg's Fan-Level table, without re-running simulation — the
// supplemented "no need to re-run the slow simulation" tool from the
// reference system's recalculate-pt utility.
func RecomputePt(path string, cat *catalog.Catalog, music catalog.Music, cfg config.RunConfig, levels []deckbuilder.LevelTriple) error {
	records, err := loadResults(path)
	if err != nil {
		return fmt.Errorf("dispatch: recompute pt: %w", err)
	}

	d := &Dispatcher{cat: cat, cfg: cfg, music: music, levels: levels}
	for i := range records {
		records[i].Pt = d.computePt(records[i])
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pt > records[j].Pt })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("dispatch: marshal recomputed pt: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
