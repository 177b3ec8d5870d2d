package model

import (
	"testing"
	"time"
)

func TestBusinessEntity_HeadquartersEstablishment(t *testing.T) {
	entity := &BusinessEntity{Establishments: []Establishment{
		{EstablishmentKey: "branch", Headquarters: false},
		{EstablishmentKey: "hq", Headquarters: true},
	}}

	hq := entity.HeadquartersEstablishment()
	if hq == nil || hq.EstablishmentKey != "hq" {
		t.Errorf("HeadquartersEstablishment() = %+v, want the flagged establishment", hq)
	}
}

func TestBusinessEntity_HeadquartersEstablishment_NoneFlagged(t *testing.T) {
	entity := &BusinessEntity{Establishments: []Establishment{{EstablishmentKey: "branch"}}}
	if got := entity.HeadquartersEstablishment(); got != nil {
		t.Errorf("HeadquartersEstablishment() = %+v, want nil when none is flagged", got)
	}
}

func TestToken_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if (&Token{}).Expired(now, time.Minute) {
		t.Error("a token with no ExpiresAt should never report expired")
	}

	future := now.Add(time.Hour)
	tok := &Token{ExpiresAt: &future}
	if tok.Expired(now, time.Minute) {
		t.Error("Expired() = true, want false well before expiry")
	}

	withinSkew := now.Add(30 * time.Second)
	tok2 := &Token{ExpiresAt: &withinSkew}
	if !tok2.Expired(now, time.Minute) {
		t.Error("Expired() = false, want true within the skew window")
	}

	past := now.Add(-time.Minute)
	tok3 := &Token{ExpiresAt: &past}
	if !tok3.Expired(now, time.Minute) {
		t.Error("Expired() = false, want true for an already-expired token")
	}
}
