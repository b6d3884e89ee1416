package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/domain"
	"github.com/felixgeelhaar/cadence/internal/stats"
)

// cmdStats shows hearts, XP, streak and lesson statistics
func cmdStats() error {
	var overview stats.Overview
	if err := call(http.MethodGet, "/v1/stats", nil, &overview); err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Learning Statistics")
	fmt.Println("===================")
	fmt.Printf("Hearts:         %s %d/%d\n", hearts(overview.Hearts, overview.MaxHearts), overview.Hearts, overview.MaxHearts)
	fmt.Printf("XP:             %d\n", overview.XP)
	fmt.Printf("Streak:         %d days", overview.Streak)
	if overview.NextMilestone > 0 {
		fmt.Printf(" (next milestone: %d)", overview.NextMilestone)
	}
	fmt.Println()
	fmt.Printf("Lessons:        %d/%d completed (%d unlocked)\n",
		overview.LessonsCompleted, overview.LessonsTotal, overview.LessonsUnlocked)
	fmt.Printf("Completion:     %s %.0f%%\n", renderProgressBar(overview.CompletionRate, 20), overview.CompletionRate*100)
	fmt.Printf("Average Score:  %.1f%%\n", overview.AverageScore)
	if cur := overview.CurrentLesson; cur != nil {
		fmt.Printf("Current Lesson: %s (#%d, %s)\n", cur.LessonID, cur.Number, cur.Category)
	}
	if overview.PendingSync > 0 {
		fmt.Printf("Pending Sync:   %d updates\n", overview.PendingSync)
	}

	if len(overview.Categories) > 0 {
		fmt.Println("\nCategories")
		fmt.Println("----------")
		for _, c := range overview.Categories {
			rate := 0.0
			if c.Total > 0 {
				rate = float64(c.Completed) / float64(c.Total)
			}
			fmt.Printf("%-20s %s %d/%d\n", c.Category, renderProgressBar(rate, 20), c.Completed, c.Total)
		}
	}

	if len(overview.RecentActivity) > 0 {
		fmt.Println("\nRecent Activity")
		fmt.Println("---------------")
		for _, a := range overview.RecentActivity {
			fmt.Printf("%s  %-16s %s\n", a.OccurredAt.Local().Format("Jan 02 15:04"), a.Kind, activityDetail(a.LessonID, a.Amount))
		}
	}

	return nil
}

// cmdRefill restores hearts to the maximum
func cmdRefill() error {
	var st domain.UserStats
	if err := call(http.MethodPost, "/v1/hearts/refill", nil, &st); err != nil {
		return fmt.Errorf("refill hearts: %w", err)
	}
	fmt.Printf("Hearts refilled: %s %d/%d\n", hearts(st.Hearts, domain.MaxHearts), st.Hearts, domain.MaxHearts)
	return nil
}

func hearts(n, total int) string {
	if n < 0 {
		n = 0
	}
	if n > total {
		n = total
	}
	return strings.Repeat("♥", n) + strings.Repeat("♡", total-n)
}

func activityDetail(lessonID string, amount int) string {
	switch {
	case lessonID != "" && amount != 0:
		return fmt.Sprintf("%s (%+d)", lessonID, amount)
	case lessonID != "":
		return lessonID
	case amount != 0:
		return fmt.Sprintf("%+d", amount)
	}
	return ""
}
