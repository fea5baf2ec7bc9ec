package filter

import (
	"testing"

	"flatseek/internal/model"
)

func TestNormalizeDistrict(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Alt-Moabit", "altmoabit"},
		{`"Altona"`, "altona"},
		{"  St. Pauli ", "stpauli"},
		{"PRENZLAUER BERG", "prenzlauerberg"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeDistrict(c.in); got != c.want {
			t.Errorf("NormalizeDistrict(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatchesDistrictSubstring(t *testing.T) {
	crit := model.FilterCriteria{Districts: []string{"Altona"}}
	l := model.Listing{District: "Hamburg Altona-Nord"}
	if !Matches(l, crit) {
		t.Fatalf("expected joined district text to match by substring")
	}
	l.District = "Eimsbüttel"
	if Matches(l, crit) {
		t.Fatalf("expected non-matching district to fail")
	}
}

func TestMatchesEmptyDistrictFilterMatchesAll(t *testing.T) {
	l := model.Listing{District: "anywhere"}
	if !Matches(l, model.FilterCriteria{}) {
		t.Fatalf("empty criteria should match everything")
	}
	// Listing with no district fails only when a district filter is set.
	l.District = ""
	if !Matches(l, model.FilterCriteria{}) {
		t.Fatalf("no district filter set, listing without district should pass")
	}
	if Matches(l, model.FilterCriteria{Districts: []string{"Altona"}}) {
		t.Fatalf("district filter set, listing without district should fail")
	}
}

func TestMatchesPriceAndSize(t *testing.T) {
	crit := model.FilterCriteria{MaxRent: 600, MinSize: 12}
	ok := model.Listing{Rent: 600, Size: 12}
	if !Matches(ok, crit) {
		t.Fatalf("boundary values should pass")
	}
	if Matches(model.Listing{Rent: 601, Size: 20}, crit) {
		t.Fatalf("rent above max should fail")
	}
	if Matches(model.Listing{Rent: 500, Size: 11}, crit) {
		t.Fatalf("size below min should fail")
	}
	// Zero thresholds disable the predicate.
	if !Matches(model.Listing{Rent: 9999}, model.FilterCriteria{}) {
		t.Fatalf("zero MaxRent should disable the price check")
	}
}

func TestMatchesCategory(t *testing.T) {
	crit := model.FilterCriteria{Categories: []int{0, 2}}
	if !Matches(model.Listing{Category: 2}, crit) {
		t.Fatalf("listed category should pass")
	}
	if Matches(model.Listing{Category: 1}, crit) {
		t.Fatalf("unlisted category should fail")
	}
}

func TestIsTimeLimited(t *testing.T) {
	cases := []struct {
		name string
		l    model.Listing
		want bool
	}{
		{"open ended", model.Listing{Title: "Schönes Zimmer"}, false},
		{"duration set", model.Listing{Duration: "6"}, true},
		{"duration placeholder", model.Listing{Duration: "0"}, false},
		{"real end date", model.Listing{AvailableTo: "01.09.2026"}, true},
		{"zero end date", model.Listing{AvailableTo: "00.00.0000"}, false},
		{"zero end date with time", model.Listing{AvailableTo: "00.00.0000, 00:00:00"}, false},
		{"title keyword", model.Listing{Title: "Zwischenmiete ab sofort"}, true},
		{"title keyword sublet", model.Listing{Title: "Sublet for 3 months"}, true},
		{"title keyword befristet", model.Listing{Title: "Befristetes Zimmer"}, true},
	}
	for _, c := range cases {
		if got := IsTimeLimited(c.l); got != c.want {
			t.Errorf("%s: IsTimeLimited = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMatchesTimeLimited(t *testing.T) {
	l := model.Listing{Title: "Zwischenmiete Altona", District: "Altona"}
	crit := model.FilterCriteria{Districts: []string{"Altona"}}
	if Matches(l, crit) {
		t.Fatalf("time-limited offer should be excluded by default")
	}
	crit.AllowTimeLimited = true
	if !Matches(l, crit) {
		t.Fatalf("time-limited offer should pass when allowed")
	}
}

// All predicates are pure, so the verdict must not depend on which
// criterion is the failing one.
func TestMatchesOrderIndependent(t *testing.T) {
	l := model.Listing{District: "Altona", Rent: 900, Size: 8, Category: 1, Title: "Zwischenmiete"}
	crit := model.FilterCriteria{
		Districts:  []string{"Eimsbüttel"},
		MaxRent:    600,
		MinSize:    12,
		Categories: []int{0},
	}
	if Matches(l, crit) {
		t.Fatalf("listing failing every criterion must not match")
	}
	// Fix them one at a time; the listing only passes when all hold.
	l.District = "Eimsbüttel"
	l.Rent = 500
	l.Size = 20
	l.Category = 0
	if Matches(l, crit) {
		t.Fatalf("time-limited title should still block the match")
	}
	l.Title = "Schönes Zimmer"
	if !Matches(l, crit) {
		t.Fatalf("all criteria satisfied, expected match")
	}
}
