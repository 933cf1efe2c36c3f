package player

import (
	"fmt"
	"strings"
	"time"

	"watchcompanion/internal/domain"
)

// ResumePolicy decides what happens to a stored checkpoint on first Ready.
type ResumePolicy string

const (
	ResumeAuto ResumePolicy = "auto"
	ResumeAsk  ResumePolicy = "ask"
	ResumeOff  ResumePolicy = "off"
)

func ParseResumePolicy(raw string) (ResumePolicy, error) {
	switch p := ResumePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case ResumeAuto, ResumeAsk, ResumeOff:
		return p, nil
	case "":
		return ResumeAuto, nil
	default:
		return "", fmt.Errorf("%w: resume policy %q", domain.ErrInvalidArgument, raw)
	}
}

type Config struct {
	SkipSeconds  float64
	SkipDebounce time.Duration
	VolumeStep   float64
	// AutoAdvanceThreshold raises Ending when this many seconds remain. Zero
	// waits for the natural end.
	AutoAdvanceThreshold float64
	ResumePolicy         ResumePolicy
	PromptTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		SkipSeconds:   10,
		SkipDebounce:  200 * time.Millisecond,
		VolumeStep:    0.1,
		ResumePolicy:  ResumeAuto,
		PromptTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SkipSeconds <= 0 {
		c.SkipSeconds = def.SkipSeconds
	}
	if c.SkipDebounce < 0 {
		c.SkipDebounce = 0
	}
	if c.VolumeStep <= 0 {
		c.VolumeStep = def.VolumeStep
	}
	if c.AutoAdvanceThreshold < 0 {
		c.AutoAdvanceThreshold = 0
	}
	if c.ResumePolicy == "" {
		c.ResumePolicy = def.ResumePolicy
	}
	if c.PromptTimeout <= 0 {
		c.PromptTimeout = def.PromptTimeout
	}
	return c
}
