package duel

import (
	"crypto/rand"
	"embed"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules embed.FS

// Ruleset is the resolution policy for a duel: which choices exist, which
// choice beats which, and the health/damage/timeout numbers. The default
// is embedded; an override file may replace it wholesale.
type Ruleset struct {
	Choices     []Choice
	Beats       map[Choice]Choice
	MaxHealth   int
	RoundDamage int
	MoveTimeout time.Duration
}

type rulesetYAML struct {
	Choices        []string          `yaml:"choices"`
	Beats          map[string]string `yaml:"beats"`
	MaxHealth      int               `yaml:"max_health"`
	RoundDamage    int               `yaml:"round_damage"`
	MoveTimeoutSec int               `yaml:"move_timeout_sec"`
}

// DefaultRuleset loads the embedded attack/block/trick policy.
func DefaultRuleset() (*Ruleset, error) {
	raw, err := fs.ReadFile(defaultRules, "rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded rules: %w", err)
	}
	return parseRuleset(raw)
}

// LoadRuleset reads a policy file, falling back to the embedded default
// when path is empty.
func LoadRuleset(path string) (*Ruleset, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRuleset()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return parseRuleset(raw)
}

func parseRuleset(raw []byte) (*Ruleset, error) {
	var y rulesetYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	rs := &Ruleset{
		Beats:       make(map[Choice]Choice, len(y.Beats)),
		MaxHealth:   y.MaxHealth,
		RoundDamage: y.RoundDamage,
		MoveTimeout: time.Duration(y.MoveTimeoutSec) * time.Second,
	}
	for _, c := range y.Choices {
		rs.Choices = append(rs.Choices, Choice(strings.TrimSpace(c)))
	}
	for k, v := range y.Beats {
		rs.Beats[Choice(strings.TrimSpace(k))] = Choice(strings.TrimSpace(v))
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *Ruleset) validate() error {
	if len(rs.Choices) < 2 {
		return fmt.Errorf("rules: need at least 2 choices, got %d", len(rs.Choices))
	}
	if rs.MaxHealth <= 0 {
		return fmt.Errorf("rules: max_health must be positive")
	}
	if rs.RoundDamage <= 0 {
		return fmt.Errorf("rules: round_damage must be positive")
	}
	if rs.MoveTimeout <= 0 {
		return fmt.Errorf("rules: move_timeout_sec must be positive")
	}
	seen := make(map[Choice]bool, len(rs.Choices))
	for _, c := range rs.Choices {
		if c == "" {
			return fmt.Errorf("rules: empty choice name")
		}
		if seen[c] {
			return fmt.Errorf("rules: duplicate choice %q", c)
		}
		seen[c] = true
	}
	for winner, loser := range rs.Beats {
		if !seen[winner] || !seen[loser] {
			return fmt.Errorf("rules: beats entry %q>%q references unknown choice", winner, loser)
		}
		if winner == loser {
			return fmt.Errorf("rules: choice %q cannot beat itself", winner)
		}
	}
	for _, c := range rs.Choices {
		if _, ok := rs.Beats[c]; !ok {
			return fmt.Errorf("rules: choice %q beats nothing", c)
		}
	}
	return nil
}

// Valid reports whether c is part of the policy.
func (rs *Ruleset) Valid(c Choice) bool {
	for _, v := range rs.Choices {
		if v == c {
			return true
		}
	}
	return false
}

// ParseChoice normalizes a wire string into a policy choice.
func (rs *Ruleset) ParseChoice(s string) (Choice, error) {
	c := Choice(strings.ToLower(strings.TrimSpace(s)))
	if !rs.Valid(c) {
		return "", ErrBadChoice
	}
	return c, nil
}

// Winner resolves two moves: it returns the owner of the winning move, or
// WinnerDraw when the choices are equal.
func (rs *Ruleset) Winner(a, b Move) string {
	if a.Choice == b.Choice {
		return WinnerDraw
	}
	if rs.Beats[a.Choice] == b.Choice {
		return a.Owner
	}
	if rs.Beats[b.Choice] == a.Choice {
		return b.Owner
	}
	// distinct choices with no ordering between them
	return WinnerDraw
}

// RandomChoice picks uniformly from the policy's choices.
func (rs *Ruleset) RandomChoice() Choice {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(rs.Choices))))
	if err != nil {
		return rs.Choices[0]
	}
	return rs.Choices[n.Int64()]
}
