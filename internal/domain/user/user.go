package user

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrIDRequired      = errors.New("user: id is required")
	ErrNotFound        = errors.New("user: not found")
	ErrUnknownCategory = errors.New("user: unknown notification category")
)

// Category names a global notification flag shown by the app chrome.
type Category string

const (
	CategoryExplore  Category = "explore"
	CategoryListing  Category = "listing"
	CategoryAccount  Category = "account"
	CategoryMessages Category = "messages"
)

// DefaultCategories lists the flags every user starts with.
var DefaultCategories = []Category{CategoryExplore, CategoryListing, CategoryAccount, CategoryMessages}

// ParseCategory normalizes a category name. Unknown names are accepted as long as
// they are non-empty identifiers; the chrome may add categories over time.
func ParseCategory(raw string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" || strings.ContainsAny(name, ".$ ") {
		return "", ErrUnknownCategory
	}
	return Category(name), nil
}

// Notifications maps category to whether it currently has something new.
type Notifications map[Category]bool

// DefaultNotifications returns every default category cleared.
func DefaultNotifications() Notifications {
	out := make(Notifications, len(DefaultCategories))
	for _, c := range DefaultCategories {
		out[c] = false
	}
	return out
}

func (n Notifications) Clone() Notifications {
	if n == nil {
		return nil
	}
	out := make(Notifications, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// With returns a copy with category set to value.
func (n Notifications) With(category Category, value bool) Notifications {
	out := n.Clone()
	if out == nil {
		out = DefaultNotifications()
	}
	out[category] = value
	return out
}

// Any reports whether at least one flag is raised.
func (n Notifications) Any() bool {
	for _, v := range n {
		if v {
			return true
		}
	}
	return false
}

type User struct {
	UID             string
	DisplayName     string
	AvatarURL       string
	ConversationIDs []string
	Listings        []string
	Notifications   Notifications
}

func (u *User) HasConversation(id string) bool {
	return containsString(u.ConversationIDs, id)
}

func (u *User) HasListing(id string) bool {
	return containsString(u.Listings, id)
}

// AddConversation adds id with set semantics and reports whether it changed.
func (u *User) AddConversation(id string) bool {
	if id == "" || u.HasConversation(id) {
		return false
	}
	u.ConversationIDs = append(u.ConversationIDs, id)
	return true
}

func (u *User) RemoveConversation(id string) bool {
	var removed bool
	u.ConversationIDs, removed = removeString(u.ConversationIDs, id)
	return removed
}

func (u *User) AddListing(id string) bool {
	if id == "" || u.HasListing(id) {
		return false
	}
	u.Listings = append(u.Listings, id)
	return true
}

func (u *User) RemoveListing(id string) bool {
	var removed bool
	u.Listings, removed = removeString(u.Listings, id)
	return removed
}

// NameOr returns the display name or fallback when empty.
func (u *User) NameOr(fallback string) string {
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	return fallback
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.ConversationIDs = append([]string(nil), u.ConversationIDs...)
	out.Listings = append([]string(nil), u.Listings...)
	out.Notifications = u.Notifications.Clone()
	return &out
}

// SortedCategories returns the categories of n in a stable order.
func SortedCategories(n Notifications) []Category {
	out := make([]Category, 0, len(n))
	for c := range n {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func removeString(values []string, target string) ([]string, bool) {
	out := values[:0:0]
	removed := false
	for _, v := range values {
		if v == target {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if !removed {
		return values, false
	}
	return out, true
}
