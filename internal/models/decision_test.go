package rewards

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeText(t *testing.T) {
	for _, o := range []Outcome{NotEligible, Granted, AlreadyHeld} {
		j, err := json.Marshal(o)
		require.NoError(t, err)
		var back Outcome
		require.NoError(t, json.Unmarshal(j, &back))
		require.Equal(t, o, back, "outcome=%s", j)
	}

	var o Outcome
	require.ErrorIs(t, o.UnmarshalText([]byte("maybe")), ErrValidation)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "u1:b1", Customer{UserID: "u1", BusinessID: "b1"}.Key())
	require.Equal(t, "welcome", RewardTemplate{ID: "r0", Recognition: "welcome"}.Key())
	require.Equal(t, "r0", RewardTemplate{ID: "r0"}.Key())
}

func TestConflictIsStorage(t *testing.T) {
	require.ErrorIs(t, ErrConflict, ErrStorage)
}
