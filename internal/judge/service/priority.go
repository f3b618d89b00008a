package service

import (
	"strings"

	"gavel/internal/judge/model"
)

// Role and difficulty labels recognized by priority computation. Unknown
// labels contribute nothing.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"

	DifficultyVeryEasy = "very_easy"
)

// ComputePriority derives a queue priority from who submitted and what they
// submitted against. Rejudges are floored at the rejudge priority so they
// overtake the regular backlog.
func ComputePriority(role, difficulty string, rejudge bool) int {
	priority := model.PriorityBase
	switch strings.ToLower(role) {
	case RoleAdmin:
		priority += 3
	case RoleModerator:
		priority += 2
	}
	if strings.ToLower(difficulty) == DifficultyVeryEasy {
		priority++
	}
	if rejudge && priority < model.PriorityRejudge {
		priority = model.PriorityRejudge
	}
	return model.ClampPriority(priority)
}
