package services

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/soaringjerry/recipesurvey/internal/catalog"
)

// Sampler draws the category-balanced recipe assignment for a participant.
// The draw depends only on the catalog and the participant ID.
type Sampler struct {
	Count int
}

func NewSampler() *Sampler { return &Sampler{Count: RecipesPerParticipant} }

// CheckCatalog fails with ErrInsufficientData when the catalog cannot supply
// a full assignment. Called once at startup.
func (s *Sampler) CheckCatalog(cat *catalog.Catalog) error {
	if cat == nil || cat.Len() < s.count() {
		n := 0
		if cat != nil {
			n = cat.Len()
		}
		return &ServiceError{
			Code:    ErrorInsufficientData,
			Message: fmt.Sprintf("catalog has %d recipes, need at least %d", n, s.count()),
		}
	}
	return nil
}

// Select returns the recipe IDs for participantID. When the catalog has at
// least Count categories every chosen recipe comes from a different one;
// otherwise every category is covered once and the rest is drawn from the
// remaining pool without replacement. The result order is shuffled.
func (s *Sampler) Select(cat *catalog.Catalog, participantID string) ([]int, error) {
	if err := s.CheckCatalog(cat); err != nil {
		return nil, err
	}
	want := s.count()
	rng := rand.New(seedFor(participantID))

	categories := cat.Categories()
	rng.Shuffle(len(categories), func(i, j int) {
		categories[i], categories[j] = categories[j], categories[i]
	})

	chosen := make([]int, 0, want)
	used := make(map[int]bool, want)
	for _, c := range categories {
		if len(chosen) == want {
			break
		}
		members := cat.ByCategory(c)
		r := members[rng.IntN(len(members))]
		chosen = append(chosen, r.ID)
		used[r.ID] = true
	}

	if len(chosen) < want {
		pool := make([]int, 0, cat.Len()-len(chosen))
		for _, r := range cat.Recipes() {
			if !used[r.ID] {
				pool = append(pool, r.ID)
			}
		}
		for len(chosen) < want {
			i := rng.IntN(len(pool))
			chosen = append(chosen, pool[i])
			pool[i] = pool[len(pool)-1]
			pool = pool[:len(pool)-1]
		}
	}

	rng.Shuffle(len(chosen), func(i, j int) {
		chosen[i], chosen[j] = chosen[j], chosen[i]
	})
	return chosen, nil
}

func (s *Sampler) count() int {
	if s == nil || s.Count <= 0 {
		return RecipesPerParticipant
	}
	return s.Count
}

func seedFor(id string) *rand.PCG {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	hi := h.Sum64()

	rev := []byte(id)
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	h.Reset()
	_, _ = h.Write(rev)
	_, _ = h.Write([]byte{0xff})
	return rand.NewPCG(hi, h.Sum64())
}
