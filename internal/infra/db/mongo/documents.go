package mongo

import (
	"time"

	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

type userDocument struct {
	ID              string          `bson:"_id"`
	DisplayName     string          `bson:"display_name,omitempty"`
	AvatarURL       string          `bson:"avatar_url,omitempty"`
	ConversationIDs []string        `bson:"conversation_ids"`
	Listings        []string        `bson:"listings"`
	Notifications   map[string]bool `bson:"notifications,omitempty"`
}

func (d userDocument) toDomain() domainuser.User {
	u := domainuser.User{
		UID:             d.ID,
		DisplayName:     d.DisplayName,
		AvatarURL:       d.AvatarURL,
		ConversationIDs: d.ConversationIDs,
		Listings:        d.Listings,
	}
	if d.Notifications != nil {
		u.Notifications = make(domainuser.Notifications, len(d.Notifications))
		for k, v := range d.Notifications {
			u.Notifications[domainuser.Category(k)] = v
		}
	}
	return u
}

func newUserDocument(u domainuser.User) userDocument {
	doc := userDocument{
		ID:              u.UID,
		DisplayName:     u.DisplayName,
		AvatarURL:       u.AvatarURL,
		ConversationIDs: nonNil(u.ConversationIDs),
		Listings:        nonNil(u.Listings),
	}
	if u.Notifications != nil {
		doc.Notifications = notificationFields(u.Notifications)
	}
	return doc
}

func notificationFields(n domainuser.Notifications) map[string]bool {
	out := make(map[string]bool, len(n))
	for k, v := range n {
		out[string(k)] = v
	}
	return out
}

type participantDocument struct {
	UID         string `bson:"uid"`
	DisplayName string `bson:"display_name"`
	AvatarURL   string `bson:"avatar_url,omitempty"`
}

type messageDocument struct {
	Sender         string    `bson:"sender"`
	Text           string    `bson:"text"`
	LocalTimestamp int64     `bson:"local_timestamp"`
	Timestamp      time.Time `bson:"timestamp"`
}

type lastMessageDocument struct {
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

type conversationDocument struct {
	ID           string                `bson:"_id"`
	ListingID    string                `bson:"listing_id,omitempty"`
	Participants []participantDocument `bson:"participants"`
	Messages     []messageDocument     `bson:"messages"`
	LastMessage  lastMessageDocument   `bson:"last_message"`
	LastRead     map[string]time.Time  `bson:"last_read"`
	CreatedAt    time.Time             `bson:"created_at"`
}

func (d conversationDocument) toDomain() domainconversation.Conversation {
	c := domainconversation.Conversation{
		ID:           d.ID,
		ListingID:    d.ListingID,
		Participants: make([]domainconversation.Participant, 0, len(d.Participants)),
		Messages:     make([]domainconversation.Message, 0, len(d.Messages)),
		LastMessage:  domainconversation.LastMessage{Text: d.LastMessage.Text, Timestamp: d.LastMessage.Timestamp.UTC()},
		LastRead:     make(map[string]time.Time, len(d.LastRead)),
		CreatedAt:    d.CreatedAt.UTC(),
	}
	for _, p := range d.Participants {
		c.Participants = append(c.Participants, domainconversation.Participant{UID: p.UID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
	}
	for _, m := range d.Messages {
		c.Messages = append(c.Messages, domainconversation.Message{
			Sender:         m.Sender,
			Text:           m.Text,
			LocalTimestamp: m.LocalTimestamp,
			Timestamp:      m.Timestamp.UTC(),
		})
	}
	for uid, ts := range d.LastRead {
		c.LastRead[uid] = ts.UTC()
	}
	return c
}

// newConversationDocument stamps every server timestamp with now.
func newConversationDocument(c domainconversation.Conversation, now time.Time) conversationDocument {
	doc := conversationDocument{
		ID:           c.ID,
		ListingID:    c.ListingID,
		Participants: make([]participantDocument, 0, len(c.Participants)),
		Messages:     make([]messageDocument, 0, len(c.Messages)),
		LastRead:     make(map[string]time.Time, len(c.LastRead)+1),
		CreatedAt:    now,
	}
	for _, p := range c.Participants {
		doc.Participants = append(doc.Participants, participantDocument{UID: p.UID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
	}
	for _, m := range c.Messages {
		doc.Messages = append(doc.Messages, messageDocument{Sender: m.Sender, Text: m.Text, LocalTimestamp: m.LocalTimestamp, Timestamp: now})
	}
	for uid, ts := range c.LastRead {
		doc.LastRead[uid] = ts
	}
	if newest, ok := c.Newest(); ok {
		doc.LastMessage = lastMessageDocument{Text: newest.Text, Timestamp: now}
		doc.LastRead[newest.Sender] = now
	}
	return doc
}

type addressDocument struct {
	Line1   string  `bson:"line1,omitempty"`
	City    string  `bson:"city,omitempty"`
	Eircode string  `bson:"eircode,omitempty"`
	Lat     float64 `bson:"lat,omitempty"`
	Lon     float64 `bson:"lon,omitempty"`
}

type listingDocument struct {
	ID            string          `bson:"_id"`
	Owner         string          `bson:"owner"`
	Title         string          `bson:"title,omitempty"`
	Address       addressDocument `bson:"address"`
	RentCents     int64           `bson:"rent_cents,omitempty"`
	AvailableFrom time.Time       `bson:"available_from,omitempty"`
	AvailableTo   time.Time       `bson:"available_to,omitempty"`
	Images        []string        `bson:"images"`
	CreatedAt     time.Time       `bson:"created_at"`
}

func (d listingDocument) toDomain() domainlistings.Listing {
	return domainlistings.Listing{
		ID:    d.ID,
		Owner: d.Owner,
		Title: d.Title,
		Address: domainlistings.Address{
			Line1:   d.Address.Line1,
			City:    d.Address.City,
			Eircode: d.Address.Eircode,
			Lat:     d.Address.Lat,
			Lon:     d.Address.Lon,
		},
		RentCents:     d.RentCents,
		AvailableFrom: d.AvailableFrom,
		AvailableTo:   d.AvailableTo,
		Images:        d.Images,
		CreatedAt:     d.CreatedAt,
	}
}

func newListingDocument(l domainlistings.Listing) listingDocument {
	return listingDocument{
		ID:    l.ID,
		Owner: l.Owner,
		Title: l.Title,
		Address: addressDocument{
			Line1:   l.Address.Line1,
			City:    l.Address.City,
			Eircode: l.Address.Eircode,
			Lat:     l.Address.Lat,
			Lon:     l.Address.Lon,
		},
		RentCents:     l.RentCents,
		AvailableFrom: l.AvailableFrom,
		AvailableTo:   l.AvailableTo,
		Images:        nonNil(l.Images),
		CreatedAt:     l.CreatedAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
