package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/money"
)

// WalletProfile is a named wallet security policy profile. Profiles let
// operators ship standard policy tiers (e.g. standard, high_value) as
// YAML instead of hand-configuring every wallet.
type WalletProfile struct {
	Name     string         `yaml:"name" json:"name"`
	Code     string         `yaml:"code" json:"code"`
	Currency string         `yaml:"currency" json:"currency"`
	MultiSig MultiSigConfig `yaml:"multi_sig" json:"multi_sig"`
	TimeLock TimeLockConfig `yaml:"time_lock" json:"time_lock"`
}

// MultiSigConfig holds multi-signature thresholds per profile.
type MultiSigConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ThresholdMinor is the amount, in minor units, at or above which
	// multiple approvals are required.
	ThresholdMinor    int64 `yaml:"threshold_minor" json:"threshold_minor"`
	RequiredApprovers int   `yaml:"required_approvers" json:"required_approvers"`
}

// TimeLockConfig holds time-lock policy per profile.
type TimeLockConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	ThresholdMinor int64  `yaml:"threshold_minor" json:"threshold_minor"`
	Duration       string `yaml:"duration" json:"duration"` // Go duration string, e.g. "24h"
}

// SecurityConfig converts the profile into a wallet security config for
// the given wallet.
func (p *WalletProfile) SecurityConfig(walletID string) (*contracts.WalletSecurityConfig, error) {
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}

	cfg := &contracts.WalletSecurityConfig{
		WalletID:          walletID,
		MultiSigEnabled:   p.MultiSig.Enabled,
		MultiSigThreshold: money.New(p.MultiSig.ThresholdMinor, currency),
		RequiredApprovers: p.MultiSig.RequiredApprovers,
		TimeLockEnabled:   p.TimeLock.Enabled,
		TimeLockThreshold: money.New(p.TimeLock.ThresholdMinor, currency),
	}

	if p.TimeLock.Enabled {
		d, err := time.ParseDuration(p.TimeLock.Duration)
		if err != nil {
			return nil, fmt.Errorf("profile %q: parse time lock duration: %w", p.Code, err)
		}
		cfg.TimeLockDuration = d
	}
	return cfg, nil
}

// LoadProfile loads a wallet policy profile YAML by code. It searches
// the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*WalletProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile WalletProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by profile code.
func LoadAllProfiles(profilesDir string) (map[string]*WalletProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*WalletProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile WalletProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_standard.yaml -> standard
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
