package service

import (
	"testing"

	"gavel/internal/judge/model"
)

func TestComputePriority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		role       string
		difficulty string
		rejudge    bool
		want       int
	}{
		{"regular user", "user", "medium", false, 1},
		{"admin", "admin", "medium", false, 4},
		{"moderator", "moderator", "medium", false, 3},
		{"very easy bump", "user", "very_easy", false, 2},
		{"admin very easy", "admin", "very_easy", false, 5},
		{"rejudge floors at five", "user", "medium", true, 5},
		{"rejudge keeps higher computed priority", "admin", "very_easy", true, 5},
		{"role is case insensitive", "Admin", "", false, 4},
		{"unknown role contributes nothing", "guest", "", false, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComputePriority(tt.role, tt.difficulty, tt.rejudge)
			if got != tt.want {
				t.Fatalf("ComputePriority(%q, %q, %v) = %d, want %d",
					tt.role, tt.difficulty, tt.rejudge, got, tt.want)
			}
			if got < model.PriorityMin || got > model.PriorityMax {
				t.Fatalf("priority %d out of range", got)
			}
		})
	}
}
