package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

type fixtureFile struct {
	Users         []userFixture         `json:"users"`
	Listings      []listingFixture      `json:"listings"`
	Conversations []conversationFixture `json:"conversations"`
}

type userFixture struct {
	UID             string          `json:"uid"`
	DisplayName     string          `json:"displayName"`
	AvatarURL       string          `json:"avatarUrl"`
	ConversationIDs []string        `json:"conversationIDs"`
	Listings        []string        `json:"listings"`
	Notifications   map[string]bool `json:"notifications"`
}

type listingFixture struct {
	ID        string   `json:"id"`
	Owner     string   `json:"owner"`
	Title     string   `json:"title"`
	City      string   `json:"city"`
	Eircode   string   `json:"eircode"`
	RentCents int64    `json:"rentCents"`
	Images    []string `json:"images"`
}

type conversationFixture struct {
	ID           string   `json:"id"`
	ListingID    string   `json:"listingId"`
	Participants []string `json:"participants"`
	Messages     []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"messages"`
}

// Seeder accepts whole documents. Both the memory and the Mongo store
// implement it.
type Seeder interface {
	PutUser(ctx context.Context, u domainuser.User) error
	PutListing(ctx context.Context, l domainlistings.Listing) error
	PutConversation(ctx context.Context, c domainconversation.Conversation) error
}

// LoadFixtures seeds s from a JSON file. A missing file is skipped.
func LoadFixtures(ctx context.Context, s Seeder, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("fixtures file empty", "path", path)
		return nil
	}
	var fx fixtureFile
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	profiles := make(map[string]domainuser.User, len(fx.Users))
	for _, uf := range fx.Users {
		u := domainuser.User{
			UID:             uf.UID,
			DisplayName:     uf.DisplayName,
			AvatarURL:       uf.AvatarURL,
			ConversationIDs: append([]string(nil), uf.ConversationIDs...),
			Listings:        append([]string(nil), uf.Listings...),
		}
		if uf.Notifications != nil {
			u.Notifications = make(domainuser.Notifications, len(uf.Notifications))
			for k, v := range uf.Notifications {
				u.Notifications[domainuser.Category(k)] = v
			}
		}
		if err := s.PutUser(ctx, u); err != nil {
			logger.Error("fixture user invalid", "uid", uf.UID, "error", err)
			continue
		}
		profiles[u.UID] = u
	}

	now := time.Now().UTC()
	for _, lf := range fx.Listings {
		l := domainlistings.Listing{
			ID:        lf.ID,
			Owner:     lf.Owner,
			Title:     lf.Title,
			Address:   domainlistings.Address{City: lf.City, Eircode: lf.Eircode},
			RentCents: lf.RentCents,
			Images:    append([]string(nil), lf.Images...),
			CreatedAt: now,
		}
		if err := s.PutListing(ctx, l); err != nil {
			logger.Error("fixture listing invalid", "listing_id", lf.ID, "error", err)
			continue
		}
		logger.Info("listing fixture imported", "listing_id", l.ID)
	}

	for _, cf := range fx.Conversations {
		c := domainconversation.Conversation{
			ID:        cf.ID,
			ListingID: cf.ListingID,
			LastRead:  map[string]time.Time{},
			CreatedAt: now,
		}
		for _, uid := range cf.Participants {
			profile := profiles[uid]
			profile.UID = uid
			c.Participants = append(c.Participants, domainconversation.ParticipantFromUser(&profile, uid))
		}
		for i, m := range cf.Messages {
			ts := now.Add(time.Duration(i) * time.Millisecond)
			c.Messages = append(c.Messages, domainconversation.Message{Sender: m.Sender, Text: m.Text, LocalTimestamp: ts.UnixMilli(), Timestamp: ts})
			c.LastMessage = domainconversation.LastMessage{Text: m.Text, Timestamp: ts}
		}
		if err := s.PutConversation(ctx, c); err != nil {
			logger.Error("fixture conversation invalid", "conversation_id", cf.ID, "error", err)
		}
	}
	return nil
}
