package activation

import "github.com/koscakluka/aura-core/core/audio"

const (
	energyScorerRMSLevel = 0.02
	energyScorerStreak   = 3
)

// EnergyScorer is a heuristic wake scorer used when no phrase model is
// wired in: a short run of sustained speech energy counts as the wake
// phrase. Crude, but it keeps wake-phrase mode usable out of the box.
type EnergyScorer struct {
	streak int
}

func NewEnergyScorer() *EnergyScorer {
	return &EnergyScorer{}
}

func (s *EnergyScorer) Score(chunk []byte) (float64, error) {
	if audio.RMS(chunk) >= energyScorerRMSLevel {
		s.streak++
	} else {
		s.streak = 0
	}

	confidence := float64(s.streak) / energyScorerStreak
	if confidence > 1 {
		confidence = 1
	}
	return confidence, nil
}

func (s *EnergyScorer) Reset() {
	s.streak = 0
}
