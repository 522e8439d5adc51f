package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// Assignment maps a sample ID to its partition tag
type Assignment map[string]Split

// Proportions is the desired fraction of the corpus for each partition.
// Fractions are normalized, so {train:8, val:1, test:1} is equivalent to {train:0.8, val:0.1, test:0.1}.
type Proportions map[Split]float64

// DefaultProportions is an 80/10/10 split
var DefaultProportions = Proportions{SplitTrain: 0.8, SplitVal: 0.1, SplitTest: 0.1}

// Order returns the splits of p, with train/val/test first and any others sorted by name
func (p Proportions) Order() []Split {
	order := []Split{}
	for _, s := range DefaultSplits {
		if _, ok := p[s]; ok {
			order = append(order, s)
		}
	}
	extra := []Split{}
	for s := range p {
		if s != SplitTrain && s != SplitVal && s != SplitTest {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}

func (p Proportions) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("No split proportions given")
	}
	total := 0.0
	for s, f := range p {
		if s == SplitNone {
			return fmt.Errorf("Split name may not be empty")
		}
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("Invalid proportion %v for split %v", f, s)
		}
		total += f
	}
	if total <= 0 {
		return fmt.Errorf("Split proportions must sum to a positive number")
	}
	return nil
}

// Sizes returns the number of samples in each partition, for a corpus of n samples.
// Sizes always sum to exactly n. Rounding is done with the largest remainder method.
func (p Proportions) Sizes(n int) map[Split]int {
	order := p.Order()
	total := 0.0
	for _, s := range order {
		total += p[s]
	}
	sizes := map[Split]int{}
	type remainder struct {
		split Split
		frac  float64
	}
	rem := []remainder{}
	assigned := 0
	for _, s := range order {
		exact := float64(n) * p[s] / total
		whole := int(math.Floor(exact))
		sizes[s] = whole
		assigned += whole
		rem = append(rem, remainder{s, exact - float64(whole)})
	}
	// Stable sort keeps train/val/test precedence for equal remainders
	sort.SliceStable(rem, func(i, j int) bool { return rem[i].frac > rem[j].frac })
	for i := 0; assigned < n; i++ {
		sizes[rem[i%len(rem)].split]++
		assigned++
	}
	return sizes
}

// NewRand returns the random source used for splitting.
// A zero seed produces a different shuffle on every run.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomSplit assigns every sample of the corpus to exactly one partition.
// Existing tags are cleared first, so splitting again always produces a fresh, total partition.
// Splitting freezes the corpus.
func RandomSplit(c *Corpus, p Proportions, rng *rand.Rand) (Assignment, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c.Freeze()
	for _, s := range c.samples {
		s.Tag = SplitNone
	}

	perm := rng.Perm(len(c.samples))
	sizes := p.Sizes(len(c.samples))
	next := 0
	for _, split := range p.Order() {
		for i := 0; i < sizes[split]; i++ {
			c.samples[perm[next]].Tag = split
			next++
		}
	}
	return c.Assignment(), nil
}
