package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/chips-engine/ledger"
)

func TestParseBadge_Valid(t *testing.T) {
	raw := []byte(`{
		"id": "profile-master",
		"name": "Profile Master",
		"description": "Reach a balance of 100 chips",
		"icon": "trophy",
		"chips_reward": 50,
		"unlock_rule": {"metric": "balance", "threshold": 100}
	}`)

	def, err := ledger.ParseBadge(raw)
	require.NoError(t, err)

	assert.Equal(t, ledger.BadgeID("profile-master"), def.ID)
	assert.Equal(t, int64(50), def.ChipsReward)
	assert.Equal(t, ledger.MetricBalance, def.Rule.Metric)
	assert.Equal(t, int64(100), def.Rule.Threshold)
}

func TestParseBadge_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{`},
		{"missing id", `{"name":"x","unlock_rule":{"metric":"balance","threshold":1}}`},
		{"missing name", `{"id":"x","unlock_rule":{"metric":"balance","threshold":1}}`},
		{"negative reward", `{"id":"x","name":"x","chips_reward":-5,"unlock_rule":{"metric":"balance","threshold":1}}`},
		{"unknown metric", `{"id":"x","name":"x","unlock_rule":{"metric":"karma","threshold":1}}`},
		{"zero threshold", `{"id":"x","name":"x","unlock_rule":{"metric":"balance","threshold":0}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ledger.ParseBadge([]byte(c.raw))
			require.Error(t, err)

			var verr *ledger.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestBadgeToJSON_RoundTrip(t *testing.T) {
	def, err := ledger.BadgeFromJSON(ledger.BadgeJSON{
		ID: "x", Name: "X", ChipsReward: 10,
		UnlockRule: ledger.UnlockRuleJSON{Metric: "entry_count", Threshold: 3},
	})
	require.NoError(t, err)

	bj := ledger.BadgeToJSON(def)
	assert.Equal(t, "x", bj.ID)
	assert.Equal(t, "entry_count", bj.UnlockRule.Metric)
	assert.Equal(t, int64(3), bj.UnlockRule.Threshold)
}
