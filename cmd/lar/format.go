package main

import (
	"time"

	"github.com/zulandar/larcrm/internal/notify"
)

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// leadName prefers the name the lead gave over the WhatsApp profile name.
func leadName(name, profile string) string {
	if name != "" {
		return name
	}
	return orDash(profile)
}

// formatBudget renders a budget range in reais.
func formatBudget(min, max *float64) string {
	switch {
	case min != nil && max != nil:
		return notify.FormatBRL(*min) + " - " + notify.FormatBRL(*max)
	case max != nil:
		return "até " + notify.FormatBRL(*max)
	case min != nil:
		return "a partir de " + notify.FormatBRL(*min)
	}
	return "-"
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
