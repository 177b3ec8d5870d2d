// Package privacy implements the rule-driven redactor of spec C11, grounded
// on original_source/src/privacy/filters.py's PrivacyRule/PrivacyFilter
// shape, re-expressed over the canonical internal/model types instead of
// pydantic models.
package privacy

import (
	"strings"

	"github.com/bacoco/firmia/internal/model"
)

// Rule names one built-in redaction rule and describes it for the privacy
// notice; the condition each rule checks and the fields it touches are
// coded in Redact.
type Rule struct {
	Name        string
	Description string
}

// Redactor applies the built-in rules of spec §4.10 to a fused
// BusinessEntity, depth-first, removals before masks, idempotently.
type Redactor struct {
	rules []Rule
}

// New builds a Redactor with the built-in rule set.
func New() *Redactor {
	return &Redactor{rules: []Rule{
		{Name: "protected_address", Description: "removed street and geo coordinates because the entity's privacy status is protected"},
		{Name: "diffusion_protected", Description: "removed street, house number, and geo coordinates per the upstream diffusion flag"},
		{Name: "natural_person_birth", Description: "masked birth date to year-month precision and removed birth place for natural-person executives"},
	}}
}

// Redact applies every built-in rule to entity in place and returns the
// human-readable notice of which rules fired, or nil if none did.
func (r *Redactor) Redact(entity *model.BusinessEntity, diffusionProtected bool) []string {
	if entity == nil {
		return nil
	}

	var fired []string

	if entity.Privacy == model.PrivacyProtected {
		if redactAddress(entity.Address) {
			fired = append(fired, "protected_address")
		}
		for i := range entity.Establishments {
			if redactAddress(&entity.Establishments[i].Address) {
				fired = append(fired, "protected_address")
			}
		}
	}

	if diffusionProtected {
		if stripDiffusionFields(entity.Address) {
			fired = append(fired, "diffusion_protected")
		}
		for i := range entity.Establishments {
			if stripDiffusionFields(&entity.Establishments[i].Address) {
				fired = append(fired, "diffusion_protected")
			}
		}
	}

	for i := range entity.Executives {
		if redactExecutive(&entity.Executives[i]) {
			fired = append(fired, "natural_person_birth")
		}
	}

	fired = dedupeOrdered(fired)
	if len(fired) == 0 {
		return nil
	}
	notice := "privacy redaction applied: " + strings.Join(ruleDescriptions(fired), "; ")
	entity.PrivacyNotice = &notice
	return fired
}

// RedactAddress applies the protected-address rule to a standalone Address,
// used by adapters that return addresses outside a full BusinessEntity
// (establishments, search results).
func RedactAddress(addr *model.Address, protected bool) bool {
	if !protected {
		return false
	}
	return redactAddress(addr)
}

func redactAddress(addr *model.Address) bool {
	if addr == nil {
		return false
	}
	changed := false
	if addr.Street != nil {
		addr.Street = nil
		changed = true
	}
	if addr.Geo != nil {
		addr.Geo = nil
		changed = true
	}
	return changed
}

// stripDiffusionFields removes street and geo (house number is folded into
// Street in this model, so the "house number, street, geo" triple of spec
// §4.10 collapses to the same two fields as redactAddress; kept distinct for
// the separate notice it produces).
func stripDiffusionFields(addr *model.Address) bool {
	return redactAddress(addr)
}

func redactExecutive(exec *model.Executive) bool {
	if exec.Kind != model.PersonNatural {
		return false
	}
	changed := false
	if exec.BirthPlace != nil {
		exec.BirthPlace = nil
		changed = true
	}
	if exec.BirthDate != nil {
		masked := maskBirthDate(*exec.BirthDate)
		if masked != *exec.BirthDate {
			exec.BirthDate = &masked
			changed = true
		}
	}
	return changed
}

// maskBirthDate reduces a YYYY-MM-DD date to YYYY-MM precision; already
// YYYY-MM values pass through unchanged (idempotent).
func maskBirthDate(date string) string {
	if len(date) >= 7 {
		return date[:7]
	}
	return date
}

func dedupeOrdered(names []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func ruleDescriptions(names []string) []string {
	byName := map[string]string{
		"protected_address":    "street and geo coordinates removed",
		"diffusion_protected":  "street and geo coordinates removed per diffusion flag",
		"natural_person_birth": "birth date masked to year-month, birth place removed",
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if d, ok := byName[n]; ok {
			out = append(out, d)
		}
	}
	return out
}
