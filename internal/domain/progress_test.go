package domain

import (
	"testing"
	"time"
)

func TestUserStats_LoseHeart(t *testing.T) {
	s := UserStats{Hearts: 1}
	s = s.LoseHeart()
	if s.Hearts != 0 {
		t.Fatalf("Hearts = %d, want 0", s.Hearts)
	}
	s = s.LoseHeart()
	if s.Hearts != 0 {
		t.Errorf("Hearts = %d, want 0 (floored)", s.Hearts)
	}
}

func TestUserStats_RefillHearts(t *testing.T) {
	s := UserStats{Hearts: 0, XP: 7}
	s = s.RefillHearts()
	if s.Hearts != MaxHearts || s.XP != 7 {
		t.Errorf("RefillHearts() = %+v, want %d hearts and XP kept", s, MaxHearts)
	}
}

func TestUserStats_AddXP(t *testing.T) {
	s := UserStats{XP: 3}
	if got := s.AddXP(XPPerCorrect).XP; got != 8 {
		t.Errorf("AddXP(5).XP = %d, want 8", got)
	}
	if got := s.AddXP(-XPPenalty).XP; got != 0 {
		t.Errorf("AddXP(-5).XP = %d, want 0", got)
	}
}

func TestUserStats_TouchStreak(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2026, 5, d, h, 0, 0, 0, time.UTC) }

	s := NewUserStats("u1")
	s, res := s.TouchStreak(day(1, 9))
	if res.Streak != 1 || !res.FirstToday {
		t.Fatalf("first touch = %+v, want streak 1 first today", res)
	}

	s, res = s.TouchStreak(day(1, 20))
	if res.Streak != 1 || res.FirstToday {
		t.Errorf("same-day touch = %+v, want streak 1 not first today", res)
	}

	s, res = s.TouchStreak(day(2, 8))
	if res.Streak != 2 || !res.FirstToday {
		t.Errorf("next-day touch = %+v, want streak 2 first today", res)
	}

	_, res = s.TouchStreak(day(5, 8))
	if res.Streak != 1 || !res.FirstToday {
		t.Errorf("after gap = %+v, want streak 1 first today", res)
	}
}
