package models

import (
	"fmt"
	"strings"
)

// Category identifies one of the record kinds tracked for unread badges.
type Category string

const (
	CategoryAttendance    Category = "attendance"
	CategoryResults       Category = "results"
	CategoryAchievements  Category = "achievements"
	CategoryNegatives     Category = "negatives"
	CategoryNotifications Category = "notifications"
	CategoryProjects      Category = "projects"
)

// Categories lists every tracked category in display order.
var Categories = []Category{
	CategoryAttendance,
	CategoryResults,
	CategoryAchievements,
	CategoryNegatives,
	CategoryNotifications,
	CategoryProjects,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Global reports whether records of this category have no owner.
func (c Category) Global() bool {
	return c == CategoryNotifications
}

// ParseCategory normalises user input into a Category.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", raw)
	}
	return c, nil
}
