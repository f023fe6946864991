package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackReferencesUseSetSemantics(t *testing.T) {
	u := &User{UID: "bob"}
	assert.True(t, u.AddConversation("c1"))
	assert.False(t, u.AddConversation("c1"))
	assert.True(t, u.AddConversation("c2"))
	assert.Equal(t, []string{"c1", "c2"}, u.ConversationIDs)

	assert.True(t, u.RemoveConversation("c1"))
	assert.False(t, u.RemoveConversation("c1"))
	assert.Equal(t, []string{"c2"}, u.ConversationIDs)

	assert.True(t, u.AddListing("l1"))
	assert.True(t, u.RemoveListing("l1"))
	assert.Empty(t, u.Listings)
}

func TestNotificationsWithDoesNotMutate(t *testing.T) {
	base := DefaultNotifications()
	next := base.With(CategoryMessages, true)
	assert.False(t, base[CategoryMessages])
	assert.True(t, next[CategoryMessages])
	assert.True(t, next.Any())
	assert.False(t, base.Any())

	var empty Notifications
	assert.Len(t, empty.With(CategoryAccount, true), len(DefaultCategories))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Messages ")
	require.NoError(t, err)
	assert.Equal(t, CategoryMessages, c)

	_, err = ParseCategory("")
	assert.ErrorIs(t, err, ErrUnknownCategory)
	_, err = ParseCategory("a.b")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestCloneIsDeep(t *testing.T) {
	u := &User{UID: "a", ConversationIDs: []string{"c1"}, Notifications: DefaultNotifications()}
	cp := u.Clone()
	cp.ConversationIDs[0] = "x"
	cp.Notifications[CategoryMessages] = true
	assert.Equal(t, "c1", u.ConversationIDs[0])
	assert.False(t, u.Notifications[CategoryMessages])
}
