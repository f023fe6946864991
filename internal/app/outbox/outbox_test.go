package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainlistings "lettz/internal/domain/listings"
)

type systemEvent struct{}

func (systemEvent) EventName() string     { return "system.tick" }
func (systemEvent) AggregateID() string   { return "clock" }
func (systemEvent) OccurredAt() time.Time { return time.Unix(0, 0) }

type unencodable struct{ systemEvent }

func (unencodable) MarshalJSON() ([]byte, error) { return nil, errors.New("nope") }

type sliceOutbox struct{ records []EventRecord }

func (b *sliceOutbox) Add(ctx context.Context, rec EventRecord) error {
	b.records = append(b.records, rec)
	return nil
}

func (b *sliceOutbox) Flush(ctx context.Context) error { return nil }

func TestJSONEventEncoderAttributesActor(t *testing.T) {
	enc := JSONEventEncoder{IDGenerator: func() string { return "evt-1" }}
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.FixedZone("IST", 3600))

	rec, err := enc.Encode(domainlistings.ListingRemoved{ListingID: "L", OwnerID: "bob", At: at})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", rec.ID)
	assert.Equal(t, "listing.removed", rec.Name)
	assert.Equal(t, "bob", rec.Headers[HeaderActor])
	assert.Equal(t, time.UTC, rec.OccurredAt.Location())

	rec, err = enc.Encode(systemEvent{})
	require.NoError(t, err)
	assert.NotContains(t, rec.Headers, HeaderActor)
}

func TestRecordDomainEventsStopsOnEncodeError(t *testing.T) {
	box := &sliceOutbox{}
	err := RecordDomainEvents(context.Background(), box, nil, systemEvent{}, unencodable{}, systemEvent{})
	require.ErrorIs(t, err, ErrEncode)
	assert.Len(t, box.records, 1)

	assert.NoError(t, RecordDomainEvents(context.Background(), nil, nil, systemEvent{}))
}
