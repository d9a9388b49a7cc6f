package businessflow

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/amirphl/warmup-orchestrator/models"
)

// shuffleFunc matches rand.Shuffle; tests inject a deterministic one
type shuffleFunc func(n int, swap func(i, j int))

// rankAssets orders assets by quality descending, then usage ascending.
// Ties are broken randomly by shuffling before a stable sort.
func rankAssets[T models.PooledAsset](assets []T, shuffle shuffleFunc) []T {
	ranked := slices.Clone(assets)
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	shuffle(len(ranked), func(i, j int) { ranked[i], ranked[j] = ranked[j], ranked[i] })
	slices.SortStableFunc(ranked, func(a, b T) int {
		if c := cmp.Compare(b.AssetQuality(), a.AssetQuality()); c != 0 {
			return c
		}
		return cmp.Compare(a.AssetUsage(), b.AssetUsage())
	})
	return ranked
}

// bestAsset returns the top ranked asset, or the zero value and false
func bestAsset[T models.PooledAsset](assets []T, shuffle shuffleFunc) (T, bool) {
	var zero T
	if len(assets) == 0 {
		return zero, false
	}
	return rankAssets(assets, shuffle)[0], true
}

// assignmentScore is the mean quality of the chosen assets
func assignmentScore(assets ...models.PooledAsset) float64 {
	var sum float64
	var n int
	for _, a := range assets {
		if a == nil {
			continue
		}
		sum += a.AssetQuality()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// assignmentReason renders the human-readable explanation stored with an assignment
func assignmentReason(content *models.ContentAsset, text *models.TextAsset) string {
	var parts []string
	if content != nil {
		parts = append(parts, fmt.Sprintf("Image: score %.2f, used %d times", content.QualityScore, content.AssignmentCount))
	}
	if text != nil {
		parts = append(parts, fmt.Sprintf("Text: score %.2f, used %d times", text.QualityScore, text.AssignmentCount))
	}
	return strings.Join(parts, "; ")
}
