package rewards

import (
	models "github.com/glkeru/loyalty/rewards/internal/models"
)

// Текущий уровень: наибольший порог, не превышающий баллы.
// При одинаковых порогах выигрывает первый в конфигурации.
func ResolveLevel(levels []models.Level, points int64) (models.Level, bool) {
	i := resolveIndex(levels, points)
	if i < 0 {
		return models.Level{}, false
	}
	return levels[i], true
}

func resolveIndex(levels []models.Level, points int64) int {
	current := -1
	for i, lvl := range levels {
		if points < lvl.RequiredPoints {
			continue
		}
		if current < 0 || lvl.RequiredPoints > levels[current].RequiredPoints {
			current = i
		}
	}
	return current
}

// Ключи всех полученных наград: активных и использованных
func receivedKeys(customer models.Customer) map[string]struct{} {
	keys := make(map[string]struct{}, len(customer.Rewards)+len(customer.UsedRewards))
	for _, r := range customer.Rewards {
		keys[r.Key()] = struct{}{}
	}
	for _, u := range customer.UsedRewards {
		keys[u.Reward.Key()] = struct{}{}
	}
	return keys
}

// План выдачи наград уровня. Награды текущего уровня - Granted или AlreadyHeld,
// награды остальных уровней - NotEligible. Покупатель не изменяется.
func PlanLevelRewards(levels []models.Level, customer models.Customer) (*models.Level, []models.Decision) {
	current := resolveIndex(levels, customer.Points)
	received := receivedKeys(customer)

	var decisions []models.Decision
	for i, lvl := range levels {
		for _, tmpl := range lvl.Rewards {
			d := models.Decision{LevelID: lvl.ID, Template: tmpl, Outcome: models.NotEligible}
			if i == current {
				if _, ok := received[tmpl.Key()]; ok {
					d.Outcome = models.AlreadyHeld
				} else {
					d.Outcome = models.Granted
					received[tmpl.Key()] = struct{}{} // дубликаты внутри уровня
				}
			}
			decisions = append(decisions, d)
		}
	}
	if current < 0 {
		return nil, decisions
	}
	level := levels[current]
	return &level, decisions
}
