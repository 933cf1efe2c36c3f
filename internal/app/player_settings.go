package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/player"
)

// PlayerSettings are the user-tunable parts of player.Config that pages read
// from the daemon before building a controller.
type PlayerSettings struct {
	ResumePolicy         string  `json:"resumePolicy"`
	SkipSeconds          float64 `json:"skipSeconds"`
	VolumeStep           float64 `json:"volumeStep"`
	AutoAdvanceThreshold float64 `json:"autoAdvanceSeconds"`
}

func DefaultPlayerSettings() PlayerSettings {
	def := player.DefaultConfig()
	return PlayerSettings{
		ResumePolicy:         string(def.ResumePolicy),
		SkipSeconds:          def.SkipSeconds,
		VolumeStep:           def.VolumeStep,
		AutoAdvanceThreshold: def.AutoAdvanceThreshold,
	}
}

func (s PlayerSettings) Validate() error {
	if _, err := player.ParseResumePolicy(s.ResumePolicy); err != nil {
		return err
	}
	if s.SkipSeconds <= 0 || s.SkipSeconds > 300 {
		return fmt.Errorf("%w: skipSeconds must be in (0, 300]", domain.ErrInvalidArgument)
	}
	if s.VolumeStep <= 0 || s.VolumeStep > 1 {
		return fmt.Errorf("%w: volumeStep must be in (0, 1]", domain.ErrInvalidArgument)
	}
	if s.AutoAdvanceThreshold < 0 {
		return fmt.Errorf("%w: autoAdvanceSeconds must be >= 0", domain.ErrInvalidArgument)
	}
	return nil
}

// Config merges the settings onto player.DefaultConfig.
func (s PlayerSettings) Config() player.Config {
	cfg := player.DefaultConfig()
	if policy, err := player.ParseResumePolicy(s.ResumePolicy); err == nil {
		cfg.ResumePolicy = policy
	}
	if s.SkipSeconds > 0 {
		cfg.SkipSeconds = s.SkipSeconds
	}
	if s.VolumeStep > 0 {
		cfg.VolumeStep = s.VolumeStep
	}
	if s.AutoAdvanceThreshold > 0 {
		cfg.AutoAdvanceThreshold = s.AutoAdvanceThreshold
	}
	return cfg
}

type PlayerSettingsStore interface {
	GetPlayerSettings(ctx context.Context) (PlayerSettings, bool, error)
	SetPlayerSettings(ctx context.Context, settings PlayerSettings) error
}

type PlayerSettingsManager struct {
	store   PlayerSettingsStore
	timeout time.Duration
	mu      sync.RWMutex
	current PlayerSettings
}

func NewPlayerSettingsManager(store PlayerSettingsStore, initial PlayerSettings) *PlayerSettingsManager {
	if initial.Validate() != nil {
		initial = DefaultPlayerSettings()
	}
	return &PlayerSettingsManager{
		store:   store,
		timeout: 5 * time.Second,
		current: initial,
	}
}

// Load replaces the in-memory settings with the stored ones, if any.
func (m *PlayerSettingsManager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, ok, err := m.store.GetPlayerSettings(ctx)
	if err != nil {
		return err
	}
	if !ok || stored.Validate() != nil {
		return nil
	}
	m.mu.Lock()
	m.current = stored
	m.mu.Unlock()
	return nil
}

func (m *PlayerSettingsManager) Get() PlayerSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *PlayerSettingsManager) Update(s PlayerSettings) error {
	if s.ResumePolicy == "" {
		s.ResumePolicy = string(player.ResumeAuto)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.store.SetPlayerSettings(ctx, s); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}
