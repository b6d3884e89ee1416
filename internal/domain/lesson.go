package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// TotalLessonParts is the part count of long-form multi-part lessons.
const TotalLessonParts = 3

// Lesson is a catalog entry as stored by the backend. Document holds the
// raw lesson JSON; the question loader flattens it on demand.
type Lesson struct {
	ID         string          `json:"id"`
	Number     int             `json:"number"`
	Category   string          `json:"category"`
	Title      string          `json:"title"`
	TotalParts int             `json:"total_parts,omitempty"`
	Document   json.RawMessage `json:"document,omitempty"`
	Unlocked   bool            `json:"unlocked"`
	Completed  bool            `json:"completed"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsMultiPart reports whether the lesson is split into parts.
func (l Lesson) IsMultiPart() bool {
	return l.TotalParts > 1
}

// LessonProgress is a user's persisted progress on one lesson.
type LessonProgress struct {
	LessonID       string     `json:"lesson_id"`
	IsCompleted    bool       `json:"is_completed"`
	CurrentPart    int        `json:"current_part,omitempty"`
	CompletedParts []int      `json:"completed_parts,omitempty"`
	Score          int        `json:"score"`
	BestScore      int        `json:"best_score"`
	Attempts       int        `json:"attempts"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PartCompleted reports whether the given part is marked complete.
func (p LessonProgress) PartCompleted(part int) bool {
	for _, n := range p.CompletedParts {
		if n == part {
			return true
		}
	}
	return false
}

// ProgressUpdate carries the fields of an updateLessonProgress call.
type ProgressUpdate struct {
	LessonID    string `json:"lesson_id"`
	Part        int    `json:"part,omitempty"`
	TotalParts  int    `json:"total_parts,omitempty"`
	IsCompleted bool   `json:"is_completed"`
	Score       int    `json:"score"`
	Correct     int    `json:"correct"`
	Total       int    `json:"total"`
}

// Apply merges the update into existing progress.
func (p LessonProgress) Apply(u ProgressUpdate, now time.Time) LessonProgress {
	p.LessonID = u.LessonID
	p.Score = u.Score
	if u.Score > p.BestScore {
		p.BestScore = u.Score
	}
	p.Attempts++
	if u.Part > 0 {
		if !p.PartCompleted(u.Part) {
			p.CompletedParts = append(p.CompletedParts, u.Part)
			sort.Ints(p.CompletedParts)
		}
		next := u.Part + 1
		if u.TotalParts > 0 && next > u.TotalParts {
			next = u.TotalParts
		}
		if next > p.CurrentPart {
			p.CurrentPart = next
		}
	}
	if u.IsCompleted && !p.IsCompleted {
		p.IsCompleted = true
		t := now
		p.CompletedAt = &t
	}
	p.UpdatedAt = now
	return p
}

// UnlockLessons marks lessons unlocked and completed from progress. The
// first lesson of each category is always unlocked; later lessons unlock
// once the previous one in the category is completed.
func UnlockLessons(lessons []Lesson, progress []LessonProgress) []Lesson {
	done := make(map[string]bool, len(progress))
	for _, p := range progress {
		if p.IsCompleted {
			done[p.LessonID] = true
		}
	}

	out := make([]Lesson, len(lessons))
	copy(out, lessons)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Number < out[j].Number
	})

	prevDone := make(map[string]bool)
	seen := make(map[string]bool)
	for i := range out {
		l := &out[i]
		l.Completed = done[l.ID]
		l.Unlocked = !seen[l.Category] || prevDone[l.Category]
		seen[l.Category] = true
		prevDone[l.Category] = l.Completed
	}
	return out
}
