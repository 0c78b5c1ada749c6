package duel

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultRuleset(t *testing.T) {
	rs, err := DefaultRuleset()
	if err != nil {
		t.Fatalf("DefaultRuleset: %v", err)
	}
	if rs.MaxHealth != 100 || rs.RoundDamage != 30 {
		t.Fatalf("unexpected numbers: health=%d damage=%d", rs.MaxHealth, rs.RoundDamage)
	}
	if rs.MoveTimeout != 10*time.Second {
		t.Fatalf("unexpected move timeout: %v", rs.MoveTimeout)
	}
	if len(rs.Choices) != 3 {
		t.Fatalf("expected 3 choices, got %d", len(rs.Choices))
	}
}

func TestWinnerCycle(t *testing.T) {
	rs, err := DefaultRuleset()
	if err != nil {
		t.Fatalf("DefaultRuleset: %v", err)
	}
	cases := []struct {
		a, b Choice
		want string
	}{
		{ChoiceAttack, ChoiceTrick, "alice"},
		{ChoiceTrick, ChoiceAttack, "bob"},
		{ChoiceTrick, ChoiceBlock, "alice"},
		{ChoiceBlock, ChoiceTrick, "bob"},
		{ChoiceBlock, ChoiceAttack, "alice"},
		{ChoiceAttack, ChoiceBlock, "bob"},
		{ChoiceAttack, ChoiceAttack, WinnerDraw},
		{ChoiceBlock, ChoiceBlock, WinnerDraw},
		{ChoiceTrick, ChoiceTrick, WinnerDraw},
	}
	for _, tc := range cases {
		got := rs.Winner(Move{Owner: "alice", Choice: tc.a}, Move{Owner: "bob", Choice: tc.b})
		if got != tc.want {
			t.Fatalf("Winner(%s, %s) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestParseChoice(t *testing.T) {
	rs, err := DefaultRuleset()
	if err != nil {
		t.Fatalf("DefaultRuleset: %v", err)
	}
	c, err := rs.ParseChoice("  Attack ")
	if err != nil || c != ChoiceAttack {
		t.Fatalf("ParseChoice: %v %q", err, c)
	}
	if _, err := rs.ParseChoice("fireball"); err != ErrBadChoice {
		t.Fatalf("expected ErrBadChoice, got %v", err)
	}
}

func TestLoadRulesetOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `choices: [rock, paper]
beats:
  rock: paper
  paper: rock
max_health: 60
round_damage: 20
move_timeout_sec: 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rs, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("LoadRuleset: %v", err)
	}
	if rs.MaxHealth != 60 || rs.RoundDamage != 20 || rs.MoveTimeout != 5*time.Second {
		t.Fatalf("override not applied: %+v", rs)
	}
}

func TestLoadRulesetRejectsBadPolicy(t *testing.T) {
	cases := map[string]string{
		"self-beat": `{choices: [a, b], beats: {a: a, b: a}, max_health: 10, round_damage: 5, move_timeout_sec: 1}`,
		"unknown":   `{choices: [a, b], beats: {a: b, b: c}, max_health: 10, round_damage: 5, move_timeout_sec: 1}`,
		"beatless":  `{choices: [a, b], beats: {a: b}, max_health: 10, round_damage: 5, move_timeout_sec: 1}`,
		"no-health": `{choices: [a, b], beats: {a: b, b: a}, round_damage: 5, move_timeout_sec: 1}`,
	}
	for name, body := range cases {
		if _, err := parseRuleset([]byte(body)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestRandomChoiceStaysInPolicy(t *testing.T) {
	rs, err := DefaultRuleset()
	if err != nil {
		t.Fatalf("DefaultRuleset: %v", err)
	}
	for i := 0; i < 50; i++ {
		if c := rs.RandomChoice(); !rs.Valid(c) {
			t.Fatalf("RandomChoice produced %q outside the policy", c)
		}
	}
}
