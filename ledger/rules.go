/*
rules.go - JSON badge definition parsing

PURPOSE:
  Converts JSON badge definitions into BadgeDefinition values. Admins manage
  the catalog through the API without code changes: a badge is its metadata
  plus an unlock rule expressed as a metric/threshold pair.

JSON SCHEMA:
  {
    "id": "profile-master",
    "name": "Profile Master",
    "description": "Reach a balance of 100 chips",
    "icon": "trophy",
    "chips_reward": 50,
    "unlock_rule": {"metric": "balance", "threshold": 100}
  }

VALIDATION:
  - metric must be one of: balance, referral_count, prompts_approved,
    entry_count
  - threshold must be >= 1 (a zero threshold would unlock for every user on
    their first evaluation, including users with no activity)
  - chips_reward must be >= 0

SEE ALSO:
  - badges.go: Rule evaluation
  - api/handlers.go: Catalog CRUD endpoints
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BadgeJSON is the JSON representation of a badge definition.
type BadgeJSON struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	ChipsReward int64          `json:"chips_reward"`
	UnlockRule  UnlockRuleJSON `json:"unlock_rule"`
}

// UnlockRuleJSON represents the unlock predicate configuration.
type UnlockRuleJSON struct {
	Metric    string `json:"metric"`
	Threshold int64  `json:"threshold"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseBadge validates a JSON badge definition and converts it.
func ParseBadge(raw []byte) (BadgeDefinition, error) {
	var bj BadgeJSON
	if err := json.Unmarshal(raw, &bj); err != nil {
		return BadgeDefinition{}, newValidationError("body", "invalid badge JSON: "+err.Error(), ErrInvalidReason)
	}
	return BadgeFromJSON(bj)
}

// BadgeFromJSON validates and converts a decoded badge definition.
func BadgeFromJSON(bj BadgeJSON) (BadgeDefinition, error) {
	if bj.ID == "" {
		return BadgeDefinition{}, newValidationError("id", "required", nil)
	}
	if bj.Name == "" {
		return BadgeDefinition{}, newValidationError("name", "required", nil)
	}
	if bj.ChipsReward < 0 {
		return BadgeDefinition{}, newValidationError("chips_reward", "must be >= 0", ErrInvalidAmount)
	}

	metric := UnlockMetric(bj.UnlockRule.Metric)
	switch metric {
	case MetricBalance, MetricReferralCount, MetricPromptsApproved, MetricEntryCount:
	default:
		return BadgeDefinition{}, newValidationError("unlock_rule.metric",
			fmt.Sprintf("unknown metric %q", bj.UnlockRule.Metric), ErrInvalidReason)
	}
	if bj.UnlockRule.Threshold < 1 {
		return BadgeDefinition{}, newValidationError("unlock_rule.threshold", "must be >= 1", ErrInvalidAmount)
	}

	now := time.Now().UTC()
	return BadgeDefinition{
		ID:          BadgeID(bj.ID),
		Name:        bj.Name,
		Description: bj.Description,
		Icon:        bj.Icon,
		ChipsReward: bj.ChipsReward,
		Rule:        UnlockRule{Metric: metric, Threshold: bj.UnlockRule.Threshold},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// BadgeToJSON converts a definition back to its JSON schema form.
func BadgeToJSON(b BadgeDefinition) BadgeJSON {
	return BadgeJSON{
		ID:          string(b.ID),
		Name:        b.Name,
		Description: b.Description,
		Icon:        b.Icon,
		ChipsReward: b.ChipsReward,
		UnlockRule: UnlockRuleJSON{
			Metric:    string(b.Rule.Metric),
			Threshold: b.Rule.Threshold,
		},
	}
}
