// Package config defines the configuration model for crewel and the
// closed strategy variants validated at the system boundary.
package config

import (
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/crewel-dev/crewel/internal/fault"
)

// MergeStrategy selects how a branch is folded into its parent.
type MergeStrategy string

const (
	// StrategyMerge performs a regular merge commit.
	StrategyMerge MergeStrategy = "merge"
	// StrategySquash collapses the branch into a single synthesized commit.
	StrategySquash MergeStrategy = "squash"
	// StrategyRebase replays the branch onto its parent.
	StrategyRebase MergeStrategy = "rebase"
)

// ParseMergeStrategy validates a config-driven strategy string into the
// closed variant, rejecting unknown values before any git command runs.
func ParseMergeStrategy(value string) (MergeStrategy, error) {
	switch MergeStrategy(strings.TrimSpace(strings.ToLower(value))) {
	case StrategyMerge:
		return StrategyMerge, nil
	case StrategySquash:
		return StrategySquash, nil
	case StrategyRebase:
		return StrategyRebase, nil
	default:
		return "", fault.Validation("unknown merge strategy %q (expected merge, squash, or rebase)", value)
	}
}

// BranchingStrategy determines the parent-branch chain for task branches.
type BranchingStrategy string

const (
	// BranchingFlat parents every task branch directly on main.
	BranchingFlat BranchingStrategy = "flat"
	// BranchingPerPRD chains task -> prd -> main.
	BranchingPerPRD BranchingStrategy = "per-prd"
	// BranchingPerEpic chains task -> epic -> prd -> main.
	BranchingPerEpic BranchingStrategy = "per-epic"
)

// ParseBranchingStrategy validates a branching strategy string.
func ParseBranchingStrategy(value string) (BranchingStrategy, error) {
	switch BranchingStrategy(strings.TrimSpace(strings.ToLower(value))) {
	case BranchingFlat:
		return BranchingFlat, nil
	case BranchingPerPRD:
		return BranchingPerPRD, nil
	case BranchingPerEpic:
		return BranchingPerEpic, nil
	default:
		return "", fault.Validation("unknown branching strategy %q (expected flat, per-prd, or per-epic)", value)
	}
}

// Config defines the full configuration surface for crewel.
type Config struct {
	Branches  BranchesConfig  `json:"branches"`
	Merge     MergeConfig     `json:"merge"`
	Worktrees WorktreesConfig `json:"worktrees"`
	Provider  ProviderConfig  `json:"provider"`
}

// BranchesConfig describes branch naming and hierarchy settings.
type BranchesConfig struct {
	// Main is the trunk branch every hierarchy rolls up into.
	Main string `json:"main"`
	// Strategy is the branching strategy: flat, per-prd, or per-epic.
	Strategy string `json:"strategy"`
	// Prefix is prepended to every branch crewel creates.
	Prefix string `json:"prefix"`
	// ManagedPattern is a regular expression matching branches crewel may
	// prune. Validated with RE2 semantics at load time.
	ManagedPattern string `json:"managed_pattern"`
}

// MergeConfig describes merge execution settings.
type MergeConfig struct {
	// DefaultStrategy is used when a merge command omits --strategy.
	DefaultStrategy string `json:"default_strategy"`
	// CleanupOnSuccess removes the worktree and branches after a merge.
	CleanupOnSuccess bool `json:"cleanup_on_success"`
}

// WorktreesConfig describes where task worktrees live.
type WorktreesConfig struct {
	Dir string `json:"dir"`
}

// ProviderConfig bounds PR-provider lookups.
type ProviderConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// ApplyDefaults fills unset fields and warns about corrected values.
func ApplyDefaults(cfg Config, warn func(string)) Config {
	if warn == nil {
		warn = func(string) {}
	}
	if strings.TrimSpace(cfg.Branches.Main) == "" {
		cfg.Branches.Main = "main"
	}
	if strings.TrimSpace(cfg.Branches.Strategy) == "" {
		cfg.Branches.Strategy = string(BranchingFlat)
	}
	if strings.TrimSpace(cfg.Branches.Prefix) == "" {
		cfg.Branches.Prefix = "crewel/"
	}
	if strings.TrimSpace(cfg.Branches.ManagedPattern) == "" {
		cfg.Branches.ManagedPattern = "^crewel/"
	}
	if strings.TrimSpace(cfg.Merge.DefaultStrategy) == "" {
		cfg.Merge.DefaultStrategy = string(StrategyMerge)
	}
	if strings.TrimSpace(cfg.Worktrees.Dir) == "" {
		cfg.Worktrees.Dir = ".crewel/worktrees"
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		if cfg.Provider.TimeoutSeconds < 0 {
			warn("provider.timeout_seconds must be positive; using 10")
		}
		cfg.Provider.TimeoutSeconds = 10
	}
	return cfg
}

// Validate checks the config-driven strategy strings and the managed-branch
// pattern, returning validation faults before anything touches git.
func (cfg Config) Validate() error {
	if _, err := ParseBranchingStrategy(cfg.Branches.Strategy); err != nil {
		return err
	}
	if _, err := ParseMergeStrategy(cfg.Merge.DefaultStrategy); err != nil {
		return err
	}
	if _, err := regexp2.Compile(cfg.Branches.ManagedPattern, regexp2.RE2); err != nil {
		return fault.Validation("invalid branches.managed_pattern %q: %v", cfg.Branches.ManagedPattern, err)
	}
	return nil
}

// BranchingStrategy returns the validated branching strategy variant.
func (cfg Config) BranchingStrategy() (BranchingStrategy, error) {
	return ParseBranchingStrategy(cfg.Branches.Strategy)
}

// DefaultMergeStrategy returns the validated default merge strategy.
func (cfg Config) DefaultMergeStrategy() (MergeStrategy, error) {
	return ParseMergeStrategy(cfg.Merge.DefaultStrategy)
}

// ManagedBranchPattern compiles the managed-branch pattern with RE2
// semantics.
func (cfg Config) ManagedBranchPattern() (*regexp2.Regexp, error) {
	pattern, err := regexp2.Compile(cfg.Branches.ManagedPattern, regexp2.RE2)
	if err != nil {
		return nil, fault.Validation("invalid branches.managed_pattern %q: %v", cfg.Branches.ManagedPattern, err)
	}
	return pattern, nil
}
