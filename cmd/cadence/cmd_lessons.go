package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/felixgeelhaar/cadence/internal/domain"
)

// cmdLessons lists the catalog with lock and completion state
func cmdLessons(args []string) error {
	path := "/v1/lessons"
	if len(args) > 0 {
		path += "?category=" + url.QueryEscape(args[0])
	}

	var result struct {
		Lessons []domain.Lesson `json:"lessons"`
	}
	if err := call(http.MethodGet, path, nil, &result); err != nil {
		return fmt.Errorf("list lessons: %w", err)
	}

	if len(result.Lessons) == 0 {
		fmt.Println("No lessons yet. Add lesson packs and run 'cadence import'.")
		return nil
	}

	fmt.Println("Lessons:")
	category := ""
	for _, l := range result.Lessons {
		if l.Category != category {
			category = l.Category
			fmt.Printf("\n%s\n", category)
		}
		mark := "🔒"
		switch {
		case l.Completed:
			mark = "✓"
		case l.Unlocked:
			mark = "•"
		}
		parts := ""
		if l.IsMultiPart() {
			parts = fmt.Sprintf(" (%d parts)", l.TotalParts)
		}
		fmt.Printf("  %s %2d. %-30s %s%s\n", mark, l.Number, l.Title, l.ID, parts)
	}

	return nil
}

// cmdImport loads lesson packs into the catalog
func cmdImport(args []string) error {
	body := map[string]string{}
	if len(args) > 0 {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve dir: %w", err)
		}
		body["dir"] = dir
	}

	var result struct {
		Imported int    `json:"imported"`
		Dir      string `json:"dir"`
	}
	if err := call(http.MethodPost, "/v1/lessons/import", body, &result); err != nil {
		return fmt.Errorf("import lessons: %w", err)
	}

	fmt.Printf("✓ Imported %d lessons from %s\n", result.Imported, result.Dir)
	return nil
}
