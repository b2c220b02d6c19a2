package game

import (
	"fmt"
	"math/rand"
	"sync"
)

// Question kinds.
const (
	KindMultiplication = "multiplication"
	KindDivision       = "division"
)

// OptionCount is the number of answer options shown per question.
const OptionCount = 6

// Question is an arithmetic problem with shuffled answer options.
// Immutable once generated; Answer appears exactly once in Options.
type Question struct {
	A       int    `json:"a"`
	B       int    `json:"b"`
	Kind    string `json:"kind"`
	Answer  int    `json:"answer"`
	Options []int  `json:"options"`
	IsHard  bool   `json:"isHard"`
}

// Prompt renders the question for display.
func (q Question) Prompt() string {
	if q.Kind == KindDivision {
		return fmt.Sprintf("%d ÷ %d = ?", q.A, q.B)
	}
	return fmt.Sprintf("%d × %d = ?", q.A, q.B)
}

// hardTables are the operand values over-represented by the generator.
// A question is hard only when both operands fall in this set.
var hardTables = map[int]bool{6: true, 7: true, 8: true, 9: true}

const hardWeight = 1.6

// Generator produces weighted random questions. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator seeded from the provided source.
// Pass a fixed-seed rand for deterministic tests.
func NewGenerator(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Next produces a fresh question.
func (g *Generator) Next() Question {
	g.mu.Lock()
	defer g.mu.Unlock()

	var q Question
	if g.rng.Float64() < 0.5 {
		a := g.weightedInt(2, 10)
		b := g.weightedInt(2, 12)
		q = Question{
			A:      a,
			B:      b,
			Kind:   KindMultiplication,
			Answer: a * b,
			IsHard: hardTables[a] && hardTables[b],
		}
	} else {
		divisor := g.weightedInt(2, 10)
		quotient := g.weightedInt(2, 12)
		q = Question{
			A:      divisor * quotient,
			B:      divisor,
			Kind:   KindDivision,
			Answer: quotient,
			IsHard: hardTables[divisor] && hardTables[quotient],
		}
	}

	q.Options = g.buildOptions(q.Answer)
	return q
}

// buildOptions generates five distinct wrong answers around the correct one
// and splices the correct answer in at a random position.
func (g *Generator) buildOptions(answer int) []int {
	wrong := make(map[int]bool, OptionCount-1)
	for len(wrong) < OptionCount-1 {
		var w int
		switch strategy := g.rng.Float64(); {
		case strategy < 0.5:
			w = answer + g.intBetween(-5, 5)
		case strategy < 0.8:
			w = answer + g.intBetween(-10, 10)
		default:
			w = g.intBetween(1, 120)
		}
		if w > 0 && w != answer {
			wrong[w] = true
		}
	}

	options := make([]int, 0, OptionCount)
	for w := range wrong {
		options = append(options, w)
	}
	// Map iteration order is already random, but keep the explicit shuffle so
	// option placement does not depend on runtime map behavior.
	g.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	pos := g.intBetween(0, OptionCount-1)
	options = append(options, 0)
	copy(options[pos+1:], options[pos:])
	options[pos] = answer
	return options
}

// weightedInt draws from [min,max] with hard-table values weighted up.
func (g *Generator) weightedInt(min, max int) int {
	total := 0.0
	for v := min; v <= max; v++ {
		total += weightOf(v)
	}
	r := g.rng.Float64() * total
	for v := min; v <= max; v++ {
		r -= weightOf(v)
		if r <= 0 {
			return v
		}
	}
	return max
}

func weightOf(v int) float64 {
	if hardTables[v] {
		return hardWeight
	}
	return 1
}

func (g *Generator) intBetween(min, max int) int {
	return g.rng.Intn(max-min+1) + min
}
