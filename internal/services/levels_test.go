package rewards

import (
	"testing"

	models "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/stretchr/testify/require"
)

func testLevels() []models.Level {
	return []models.Level{
		{ID: "bronze", Name: "Бронза", RequiredPoints: 0, Rewards: []models.RewardTemplate{
			{ID: "r0", Name: "Приветственный кофе", Recognition: "welcome"},
		}},
		{ID: "silver", Name: "Серебро", RequiredPoints: 100, Rewards: []models.RewardTemplate{
			{ID: "r1", Name: "Скидка 5%", Percent: 5, Recognition: "silver-discount"},
		}},
		{ID: "gold", Name: "Золото", RequiredPoints: 200, Rewards: []models.RewardTemplate{
			{ID: "r2", Name: "Скидка 10%", Percent: 10, Recognition: "gold-discount"},
		}},
	}
}

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		points   int64
		expected string
		found    bool
	}{
		{0, "bronze", true},
		{99, "bronze", true},
		{100, "silver", true},
		{199, "silver", true},
		{200, "gold", true},
		{100000, "gold", true},
	}

	levels := testLevels()
	for _, ts := range tests {
		level, ok := ResolveLevel(levels, ts.points)
		require.Equal(t, ts.found, ok, "points=%d", ts.points)
		require.Equal(t, ts.expected, level.ID, "points=%d", ts.points)
	}
}

func TestResolveLevelEdges(t *testing.T) {
	_, ok := ResolveLevel(nil, 500)
	require.False(t, ok)

	// нет уровня с нулевым порогом
	levels := []models.Level{{ID: "a", RequiredPoints: 50}}
	_, ok = ResolveLevel(levels, 10)
	require.False(t, ok)

	// порядок конфигурации не важен
	levels = []models.Level{
		{ID: "high", RequiredPoints: 300},
		{ID: "low", RequiredPoints: 0},
		{ID: "mid", RequiredPoints: 150},
	}
	level, ok := ResolveLevel(levels, 200)
	require.True(t, ok)
	require.Equal(t, "mid", level.ID)

	// одинаковые пороги: первый в конфигурации
	levels = []models.Level{
		{ID: "first", RequiredPoints: 100},
		{ID: "second", RequiredPoints: 100},
	}
	level, ok = ResolveLevel(levels, 100)
	require.True(t, ok)
	require.Equal(t, "first", level.ID)
}

func outcomes(decisions []models.Decision) map[string]models.Outcome {
	result := make(map[string]models.Outcome, len(decisions))
	for _, d := range decisions {
		result[d.Template.ID] = d.Outcome
	}
	return result
}

func TestPlanLevelRewards(t *testing.T) {
	levels := testLevels()

	level, decisions := PlanLevelRewards(levels, models.Customer{Points: 150})
	require.NotNil(t, level)
	require.Equal(t, "silver", level.ID)
	require.Len(t, decisions, 3)
	require.Equal(t, map[string]models.Outcome{
		"r0": models.NotEligible,
		"r1": models.Granted,
		"r2": models.NotEligible,
	}, outcomes(decisions))

	// активная награда уже есть
	held := models.Customer{Points: 150, Rewards: []models.Reward{
		{RewardTemplate: levels[1].Rewards[0]},
	}}
	_, decisions = PlanLevelRewards(levels, held)
	require.Equal(t, models.AlreadyHeld, outcomes(decisions)["r1"])

	// использованная награда тоже считается полученной
	used := models.Customer{Points: 150, UsedRewards: []models.UsedReward{
		{Reward: models.Reward{RewardTemplate: levels[1].Rewards[0]}},
	}}
	_, decisions = PlanLevelRewards(levels, used)
	require.Equal(t, models.AlreadyHeld, outcomes(decisions)["r1"])
}

func TestPlanLevelRewardsNoLevel(t *testing.T) {
	levels := []models.Level{{ID: "a", RequiredPoints: 10, Rewards: []models.RewardTemplate{{ID: "x"}}}}
	level, decisions := PlanLevelRewards(levels, models.Customer{})
	require.Nil(t, level)
	require.Equal(t, models.NotEligible, outcomes(decisions)["x"])
}

func TestPlanLevelRewardsDuplicates(t *testing.T) {
	levels := []models.Level{{ID: "a", Rewards: []models.RewardTemplate{
		{ID: "x1", Recognition: "same"},
		{ID: "x2", Recognition: "same"},
	}}}
	_, decisions := PlanLevelRewards(levels, models.Customer{})
	require.Equal(t, models.Granted, outcomes(decisions)["x1"])
	require.Equal(t, models.AlreadyHeld, outcomes(decisions)["x2"])
}

func TestPlanLevelRewardsKeepsCustomer(t *testing.T) {
	customer := models.Customer{Points: 300}
	PlanLevelRewards(testLevels(), customer)
	require.Empty(t, customer.Rewards)
	require.Equal(t, int64(300), customer.Points)
}
