package loadgen

import (
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"

	"github.com/okian/scoreboard/internal/domain/model"
)

// plan is the full set of plays of one run, grouped by player so each
// player's rounds can be sent in order.
type plan struct {
	names []string
	plays [][]Input
}

// generatePlan builds deterministic plays for the given seed. Names carry a
// run prefix so repeated runs against one server do not collide.
func generatePlan(cfg *Config) plan {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	run := uuid.NewString()[:8]

	p := plan{
		names: make([]string, cfg.Players),
		plays: make([][]Input, cfg.Players),
	}
	for i := range cfg.Players {
		p.names[i] = "lg-" + run + "-" + strconv.Itoa(i)
		rounds := make([]Input, cfg.Rounds)
		for r := range rounds {
			total := 200 + rng.IntN(800)
			hit := rng.IntN(total + 1)
			rounds[r] = Input{
				Score:        rng.IntN(model.MaxScore + 1),
				Total:        total,
				Combo:        rng.IntN(hit + 1),
				Count:        []int{hit, 0, 0, 0, total - hit},
				SubmissionID: uuid.NewString(),
			}
		}
		p.plays[i] = rounds
	}
	return p
}

// expected returns the score each player should end up with.
func (p plan) expected(policy model.Policy) map[string]int {
	out := make(map[string]int, len(p.names))
	for i, name := range p.names {
		rounds := p.plays[i]
		score := rounds[len(rounds)-1].Score
		if policy == model.PolicyBest {
			for _, in := range rounds {
				score = max(score, in.Score)
			}
		}
		out[name] = score
	}
	return out
}
