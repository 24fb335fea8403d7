package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestBadgeAwardAndRemove(t *testing.T) {
	f := newProgressionFixture(t)
	ctx := context.Background()

	ub, err := f.badges.Award(ctx, "kim", "pioneer", "admin-1")
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if ub.BadgeKey != "pioneer" || ub.AwardedBy != "admin-1" || ub.Badge.Rarity != "rare" {
		t.Fatalf("awarded badge = %+v", ub)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(ub.Metadata, &meta); err != nil || meta["name"] != ub.Badge.Name {
		t.Fatalf("metadata = %s (%v)", ub.Metadata, err)
	}

	if _, err := f.badges.Award(ctx, "kim", "pioneer", "admin-1"); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("second award: %v", err)
	}
	if _, err := f.badges.Award(ctx, "kim", "astronaut", "admin-1"); !errors.Is(err, ErrUnknownBadge) {
		t.Fatalf("unknown badge: %v", err)
	}
	if p := f.progress(t, "kim"); p.ActiveBadge != nil {
		t.Fatalf("award must not set the active badge, got %q", *p.ActiveBadge)
	}

	key := "pioneer"
	if err := f.badges.SetActive(ctx, "kim", &key); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if p := f.progress(t, "kim"); p.ActiveBadge == nil || *p.ActiveBadge != "pioneer" {
		t.Fatalf("active badge not stored: %+v", p.ActiveBadge)
	}

	cleared, err := f.badges.Remove(ctx, "kim", "pioneer")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !cleared {
		t.Fatal("removing the active badge should report it cleared")
	}
	if p := f.progress(t, "kim"); p.ActiveBadge != nil {
		t.Fatalf("active badge survived removal: %q", *p.ActiveBadge)
	}
	if _, err := f.badges.Remove(ctx, "kim", "pioneer"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("second remove: %v", err)
	}
}

func TestBadgeRemoveKeepsOtherActiveBadge(t *testing.T) {
	f := newProgressionFixture(t)
	ctx := context.Background()

	for _, k := range []string{"pioneer", "merchant"} {
		if _, err := f.badges.Award(ctx, "lee", k, "admin-1"); err != nil {
			t.Fatalf("award %s: %v", k, err)
		}
	}
	key := "merchant"
	if err := f.badges.SetActive(ctx, "lee", &key); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	cleared, err := f.badges.Remove(ctx, "lee", "pioneer")
	if err != nil || cleared {
		t.Fatalf("Remove = %v, %v", cleared, err)
	}
	if p := f.progress(t, "lee"); p.ActiveBadge == nil || *p.ActiveBadge != "merchant" {
		t.Fatalf("active badge changed: %v", p.ActiveBadge)
	}

	held, err := f.badges.UserBadges(ctx, "lee")
	if err != nil {
		t.Fatalf("UserBadges: %v", err)
	}
	if len(held) != 1 || held[0].BadgeKey != "merchant" || held[0].Badge.Name == "" {
		t.Fatalf("held badges = %+v", held)
	}
}

func TestBadgeSetActive(t *testing.T) {
	f := newProgressionFixture(t)
	ctx := context.Background()

	key := "legend"
	if err := f.badges.SetActive(ctx, "mia", &key); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("activate unheld badge: %v", err)
	}
	if err := f.badges.SetActive(ctx, "mia", nil); err != nil {
		t.Fatalf("clearing with no badges should succeed: %v", err)
	}
}

func TestBadgeDefine(t *testing.T) {
	f := newProgressionFixture(t)
	ctx := context.Background()

	def, err := f.badges.Define(ctx, DefineBadgeInput{Name: "Early Bird Café", Rarity: "epic"})
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if def.Key != "early-bird-cafe" {
		t.Fatalf("derived key = %q", def.Key)
	}
	if _, err := f.badges.Define(ctx, DefineBadgeInput{Name: "Early bird cafe"}); !errors.Is(err, &Failure{Reason: ReasonBadgeExists}) {
		t.Fatalf("duplicate define: %v", err)
	}

	if _, err := f.badges.CheckDefinable(ctx, DefineBadgeInput{Name: "Early Bird Cafe"}); !errors.Is(err, &Failure{Reason: ReasonBadgeExists}) {
		t.Fatalf("check existing: %v", err)
	}
	checked, err := f.badges.CheckDefinable(ctx, DefineBadgeInput{Name: "Night Owl"})
	if err != nil || checked.Key != "night-owl" {
		t.Fatalf("check new = %+v, %v", checked, err)
	}

	bad := []DefineBadgeInput{
		{Name: ""},
		{Name: "Shiny", Rarity: "mythic"},
		{Name: "Shiny", Key: "Has Spaces"},
		{Name: "Shiny", MinLevel: MaxLevel + 1},
	}
	for _, in := range bad {
		_, err := f.badges.Define(ctx, in)
		r, ok := ReasonOf(err)
		if !ok || !r.IsValidation() {
			t.Errorf("Define(%+v) = %v, want a validation failure", in, err)
		}
		_, err = f.badges.CheckDefinable(ctx, in)
		if r, ok := ReasonOf(err); !ok || !r.IsValidation() {
			t.Errorf("CheckDefinable(%+v) = %v, want a validation failure", in, err)
		}
	}

	defs, err := f.badges.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	found := false
	for _, d := range defs {
		if d.Key == "early-bird-cafe" {
			found = true
		}
	}
	if !found || len(defs) != 7 {
		t.Fatalf("catalog has %d entries (new badge found=%v)", len(defs), found)
	}
}

func TestLevelBadgeDefinedLaterIsGrantedOnNextLevelUp(t *testing.T) {
	f := newProgressionFixture(t)
	ctx := context.Background()

	if _, err := f.badges.Define(ctx, DefineBadgeInput{Name: "First Steps", MinLevel: 2}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	if _, err := f.svc.AdminSetProgression(ctx, "noa", AdminProgressionInput{Level: intp(3)}); err != nil {
		t.Fatalf("override: %v", err)
	}
	held, err := f.badges.UserBadges(ctx, "noa")
	if err != nil {
		t.Fatalf("UserBadges: %v", err)
	}
	keys := map[string]bool{}
	for _, b := range held {
		keys[b.BadgeKey] = true
		if b.AwardedBy != "system" {
			t.Errorf("level badge %s awarded by %q", b.BadgeKey, b.AwardedBy)
		}
	}
	if len(keys) != 3 || !keys["creator"] || !keys["storyteller"] || !keys["first-steps"] {
		t.Fatalf("level badges = %v", keys)
	}
}
