package quota

import (
	"fmt"

	"github.com/liftlog/liftlog-api/internal/config"
)

// Family identifies an independently quota'd capability.
type Family string

const (
	FamilyProgrammeParse     Family = "programme_parse"
	FamilyTrainingAnalysis   Family = "training_analysis"
	FamilyVoiceTranscription Family = "voice_transcription"
)

// Limits maps each tracked period to its allowance. A family tracks exactly
// the periods present in its limits.
type Limits map[Period]int

// FamilyConfig describes the limits and refund policy of one family.
type FamilyConfig struct {
	Family     Family
	Limits     Limits
	Refundable bool
}

// Periods returns the tracked periods in canonical order.
func (c FamilyConfig) Periods() []Period {
	out := make([]Period, 0, len(c.Limits))
	for _, p := range periodOrder {
		if _, ok := c.Limits[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (c FamilyConfig) validate() error {
	if c.Family == "" {
		return fmt.Errorf("family name is empty")
	}
	if len(c.Limits) == 0 {
		return fmt.Errorf("family %s has no limits", c.Family)
	}
	for p, l := range c.Limits {
		if !p.Valid() {
			return fmt.Errorf("family %s: unknown period %q", c.Family, p)
		}
		if l < 1 {
			return fmt.Errorf("family %s: %s limit must be positive, got %d", c.Family, p, l)
		}
	}
	return nil
}

// DefaultFamilies returns the production limits for the three features.
func DefaultFamilies() []FamilyConfig {
	return []FamilyConfig{
		{
			Family: FamilyProgrammeParse,
			Limits: Limits{Daily: 10, Weekly: 35, Monthly: 50},
		},
		{
			Family: FamilyVoiceTranscription,
			Limits: Limits{Daily: 50, Weekly: 200, Monthly: 500},
		},
		{
			Family:     FamilyTrainingAnalysis,
			Limits:     Limits{Monthly: 10},
			Refundable: true,
		},
	}
}

// FamiliesFromConfig builds family configurations from configured limits.
// Zero limits leave the period untracked.
func FamiliesFromConfig(cfg config.QuotaConfig) []FamilyConfig {
	return []FamilyConfig{
		{Family: FamilyProgrammeParse, Limits: limitsFrom(cfg.Programme)},
		{Family: FamilyVoiceTranscription, Limits: limitsFrom(cfg.Voice)},
		{Family: FamilyTrainingAnalysis, Limits: limitsFrom(cfg.Analysis), Refundable: true},
	}
}

func limitsFrom(l config.LimitsConfig) Limits {
	out := Limits{}
	if l.Daily > 0 {
		out[Daily] = l.Daily
	}
	if l.Weekly > 0 {
		out[Weekly] = l.Weekly
	}
	if l.Monthly > 0 {
		out[Monthly] = l.Monthly
	}
	return out
}
