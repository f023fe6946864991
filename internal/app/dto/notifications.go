package dto

import "lettz/internal/domain/user"

// Notifications is the flag map keyed by category name.
type Notifications struct {
	Flags map[string]bool `json:"flags"`
	Any   bool            `json:"any"`
}

func MapNotifications(n user.Notifications) Notifications {
	out := Notifications{Flags: make(map[string]bool, len(n)), Any: n.Any()}
	for _, c := range user.SortedCategories(n) {
		out.Flags[string(c)] = n[c]
	}
	return out
}
