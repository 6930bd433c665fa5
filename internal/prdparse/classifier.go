// Package prdparse extracts named sections from a PRD body and turns them
// into a new Epic.
package prdparse

import "strings"

// Category is one of the sections an Epic is built from.
type Category string

const (
	Overview     Category = "overview"
	Goals        Category = "goals"
	UserStories  Category = "user_stories"
	Requirements Category = "requirements"
	Timeline     Category = "timeline"
)

// Categories lists every category in Epic body order.
var Categories = []Category{Overview, Goals, UserStories, Requirements, Timeline}

// Rule maps a category to the heading keywords that select it.
type Rule struct {
	Category Category
	Keywords []string
}

// Classifier routes level-2 headings to categories. Rules are tried in
// order and the first rule with a keyword contained in the heading wins.
type Classifier []Rule

// DefaultClassifier matches the headings of the stock PRD template.
var DefaultClassifier = Classifier{
	{Category: Overview, Keywords: []string{"overview", "summary"}},
	{Category: Goals, Keywords: []string{"goal", "objective"}},
	{Category: UserStories, Keywords: []string{"user stor"}},
	{Category: Requirements, Keywords: []string{"requirement"}},
	{Category: Timeline, Keywords: []string{"timeline", "milestone"}},
}

// Classify returns the category for heading, case-insensitively.
func (c Classifier) Classify(heading string) (Category, bool) {
	h := strings.ToLower(heading)
	for _, rule := range c {
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(h, kw) {
				return rule.Category, true
			}
		}
	}
	return "", false
}
