// ABOUTME: Multi-song assignment optimizer: bitmask branch-and-bound over per-song top-pt lists
// ABOUTME: Finds the non-overlapping deck combination maximizing total pt, with a 2-of-3 fallback

// Package optimizer finds the best non-overlapping assignment of one deck
// per song, across two or three songs, given each song's already-ranked
// pt list. No card may appear in more than one chosen deck.
package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"deckminer/internal/dispatch"
)

const maxBitPositions = 64

// Selection is one song's chosen deck within a Combination.
type Selection struct {
	SongIndex int             // index into the songLists slice passed to Solve
	Entry     dispatch.Result // the chosen deck, center card, score, and pt
	Rank      int             // 1-based rank within that song's pt-sorted list
}

// Combination is the optimizer's answer: the highest-total-pt set of
// non-overlapping deck selections found.
type Combination struct {
	Selections []Selection
	TotalPt    int
	// Degraded is true when a three-song input had no conflict-free
	// three-way assignment and the best two-of-three pair was returned
	// instead.
	Degraded bool
}

// Solve accepts 2 or 3 per-song candidate lists (each entry's Pt must
// already be computed) and returns the highest-total-pt non-overlapping
// assignment. A 2-song input is solved directly, with no fallback
// possible. A 3-song input that has no conflict-free triple falls back to
// the best conflict-free pair, reported with Degraded set.
func Solve(songLists [][]dispatch.Result) (Combination, error) {
	if len(songLists) != 2 && len(songLists) != 3 {
		return Combination{}, fmt.Errorf("optimizer: need 2 or 3 song lists, got %d", len(songLists))
	}

	lists := make([][]dispatch.Result, len(songLists))
	for i, l := range songLists {
		sorted := append([]dispatch.Result(nil), l...)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Pt > sorted[b].Pt })
		lists[i] = sorted
	}

	synthetic := false
	if len(lists) == 2 {
		lists = append(lists, []dispatch.Result{{Score: 0, Pt: 0, DeckCardIDs: nil}})
		synthetic = true
	}

	bits, err := assignCardBits(lists)
	if err != nil {
		return Combination{}, err
	}

	masks := make([][]uint64, len(lists))
	for i, l := range lists {
		masks[i] = make([]uint64, len(l))
		for j, e := range l {
			masks[i][j] = deckMask(e.DeckCardIDs, bits)
		}
	}

	order := searchOrder(lists)

	if pt, idx, found := search3(lists, masks, order); found {
		sel := make([]Selection, 0, 3)
		for k, songIdx := range order {
			if synthetic && songIdx == 2 {
				continue
			}
			sel = append(sel, Selection{SongIndex: songIdx, Entry: lists[songIdx][idx[k]], Rank: idx[k] + 1})
		}
		return Combination{Selections: sel, TotalPt: pt}, nil
	}

	if synthetic {
		return Combination{}, fmt.Errorf("optimizer: no conflict-free combination found")
	}

	return solveBestPair(lists, masks)
}

// assignCardBits assigns every distinct card across all lists a unique
// bit position in first-seen order, and rejects inputs needing more than
// 64 distinct cards.
func assignCardBits(lists [][]dispatch.Result) (map[int]uint64, error) {
	bits := make(map[int]uint64)
	next := uint(0)

	for _, l := range lists {
		for _, e := range l {
			for _, id := range e.DeckCardIDs {
				if _, ok := bits[id]; ok {
					continue
				}
				if next >= maxBitPositions {
					return nil, fmt.Errorf("optimizer: more than %d distinct cards across input lists", maxBitPositions)
				}
				bits[id] = uint64(1) << next
				next++
			}
		}
	}

	return bits, nil
}

func deckMask(cardIDs []int, bits map[int]uint64) uint64 {
	var mask uint64
	for _, id := range cardIDs {
		mask |= bits[id]
	}
	return mask
}

// searchOrder returns the song indices reordered best-top-pt first,
// worst-top-pt second, middle third — this ordering empirically reduces
// the pruned search's work versus a plain descending sort.
func searchOrder(lists [][]dispatch.Result) [3]int {
	topPt := func(i int) int {
		if len(lists[i]) == 0 {
			return -1 << 31
		}
		return lists[i][0].Pt
	}

	idxs := [3]int{0, 1, 2}
	sort.Slice(idxs[:], func(a, b int) bool { return topPt(idxs[a]) > topPt(idxs[b]) })

	return [3]int{idxs[0], idxs[2], idxs[1]}
}

// search3 runs the pt-sorted triple-nested search with outer, middle,
// conflict, and inner-monotonic pruning over lists in the given order.
func search3(lists [][]dispatch.Result, masks [][]uint64, order [3]int) (bestPt int, bestIdx [3]int, found bool) {
	l0, l1, l2 := lists[order[0]], lists[order[1]], lists[order[2]]
	m0, m1, m2 := masks[order[0]], masks[order[1]], masks[order[2]]

	if len(l0) == 0 || len(l1) == 0 || len(l2) == 0 {
		return 0, bestIdx, false
	}

	bestSoFar := -1

	for i1 := range l0 {
		pt1 := l0[i1].Pt
		if pt1+l1[0].Pt+l2[0].Pt <= bestSoFar {
			break
		}

		for i2 := range l1 {
			pt2 := l1[i2].Pt
			if pt1+pt2+l2[0].Pt <= bestSoFar {
				break
			}
			if m0[i1]&m1[i2] != 0 {
				continue
			}
			combined := m0[i1] | m1[i2]

			for i3 := range l2 {
				total := pt1 + pt2 + l2[i3].Pt
				if total <= bestSoFar {
					break
				}
				if combined&m2[i3] != 0 {
					continue
				}

				bestSoFar = total
				bestIdx = [3]int{i1, i2, i3}
				found = true
			}
		}
	}

	return bestSoFar, bestIdx, found
}

// solveBestPair tries every 2-of-3 song pairing and returns the
// highest-pt conflict-free pair as a degraded Combination.
func solveBestPair(lists [][]dispatch.Result, masks [][]uint64) (Combination, error) {
	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}}

	best := Combination{TotalPt: -1}
	any := false

	for _, p := range pairs {
		a, b := p[0], p[1]
		pt, ia, ib, ok := search2(lists[a], lists[b], masks[a], masks[b])
		if !ok {
			continue
		}
		any = true
		if pt > best.TotalPt {
			best = Combination{
				TotalPt:  pt,
				Degraded: true,
				Selections: []Selection{
					{SongIndex: a, Entry: lists[a][ia], Rank: ia + 1},
					{SongIndex: b, Entry: lists[b][ib], Rank: ib + 1},
				},
			}
		}
	}

	if !any {
		return Combination{}, fmt.Errorf("optimizer: no conflict-free combination found even with 2-of-3 fallback")
	}

	return best, nil
}

// search2 is search3's two-list degenerate case: outer prune plus
// conflict check, relying on listB's pt-descending order for the inner
// monotonic prune.
func search2(listA, listB []dispatch.Result, maskA, maskB []uint64) (bestPt, bestIA, bestIB int, found bool) {
	if len(listA) == 0 || len(listB) == 0 {
		return 0, 0, 0, false
	}

	bestSoFar := -1

	for i := range listA {
		ptA := listA[i].Pt
		if ptA+listB[0].Pt <= bestSoFar {
			break
		}

		for j := range listB {
			total := ptA + listB[j].Pt
			if total <= bestSoFar {
				break
			}
			if maskA[i]&maskB[j] != 0 {
				continue
			}

			bestSoFar = total
			bestIA, bestIB = i, j
			found = true
		}
	}

	return bestSoFar, bestIA, bestIB, found
}

// FormatBestCombination renders a Combination as the human-readable
// best-combination report: total pt, then per-song rank, score, pt, and
// deck card ids.
func FormatBestCombination(c Combination, songTitles []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Total pt: %d\n", c.TotalPt)
	if c.Degraded {
		fmt.Fprintf(&b, "(degraded: no conflict-free three-song assignment, best two-song pair shown)\n")
	}

	for _, sel := range c.Selections {
		title := fmt.Sprintf("song %d", sel.SongIndex+1)
		if sel.SongIndex < len(songTitles) && songTitles[sel.SongIndex] != "" {
			title = songTitles[sel.SongIndex]
		}

		fmt.Fprintf(&b, "\n%s\n", title)
		fmt.Fprintf(&b, "  Rank:  %d\n", sel.Rank)
		fmt.Fprintf(&b, "  Score: %d\n", sel.Entry.Score)
		fmt.Fprintf(&b, "  Pt:    %d\n", sel.Entry.Pt)
		fmt.Fprintf(&b, "  Deck:  %v\n", sel.Entry.DeckCardIDs)
	}

	return b.String()
}
