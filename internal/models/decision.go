package rewards

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage error")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation error")
	// запись изменилась между чтением и сохранением
	ErrConflict = fmt.Errorf("version conflict: %w", ErrStorage)
)

// Решение по одному шаблону награды уровня
type Outcome int

const (
	NotEligible Outcome = iota
	Granted
	AlreadyHeld
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case AlreadyHeld:
		return "already_held"
	default:
		return "not_eligible"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "granted":
		*o = Granted
	case "already_held":
		*o = AlreadyHeld
	case "not_eligible":
		*o = NotEligible
	default:
		return fmt.Errorf("unknown outcome %q: %w", text, ErrValidation)
	}
	return nil
}

type Decision struct {
	LevelID  string         `json:"levelId"`
	Template RewardTemplate `json:"template"`
	Outcome  Outcome        `json:"outcome"`
}

// Результат пересчета уровня
type LevelResult struct {
	Level      *Level     `json:"currentLevel,omitempty"`
	Points     int64      `json:"points"`
	NewRewards []Reward   `json:"newRewards"`
	Decisions  []Decision `json:"decisions"`
}
