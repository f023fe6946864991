package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/listings"
	domainlistings "lettz/internal/domain/listings"
	"lettz/internal/infra/outbox"
	"lettz/internal/infra/storage/memory"
)

type recordingPhotos struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingPhotos) RemovePhotos(ctx context.Context, urls []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, urls...)
	return nil
}

func envelope(t *testing.T, id, typ string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.Envelope{SpecVersion: "1.0", ID: id, Type: typ, Source: "test", Time: time.Now(), Data: raw})
	require.NoError(t, err)
	return out
}

func TestListingEventsHandlerPurgesPhotosOnce(t *testing.T) {
	photos := &recordingPhotos{}
	h := &ListingEventsHandler{Cleanup: &listings.Cleanup{Photos: photos, Inbox: memory.NewInbox()}}
	ev := domainlistings.ListingRemoved{ListingID: "L", Images: []string{"https://cdn/b/l/1.jpg"}}
	msg := &sarama.ConsumerMessage{Value: envelope(t, "evt-1", "listing.removed.v1", ev)}

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, []string{"https://cdn/b/l/1.jpg"}, photos.urls)

	other := &sarama.ConsumerMessage{Value: envelope(t, "evt-2", "listing.updated.v1", map[string]string{"id": "L"})}
	assert.NoError(t, h.Handle(context.Background(), other))
	assert.NoError(t, h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")}))
	assert.Len(t, photos.urls, 1)
}

func TestProducerSendsHeaders(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"ok":true}` {
			return assert.AnError
		}
		return nil
	})
	p := NewProducerFrom(mock)
	require.NoError(t, p.Publish(context.Background(), "listing.events.v1", "L", []byte(`{"ok":true}`), map[string]string{"ce_type": "listing.removed.v1"}))
	require.NoError(t, p.Close())
}

func TestLoopbackDeliversToHandler(t *testing.T) {
	photos := &recordingPhotos{}
	h := &ListingEventsHandler{Cleanup: &listings.Cleanup{Photos: photos, Inbox: memory.NewInbox()}}
	ev := domainlistings.ListingRemoved{ListingID: "L", Images: []string{"a.jpg"}}

	lb := Loopback{Handler: h}
	require.NoError(t, lb.Publish(context.Background(), "listing.events.v1", "L", envelope(t, "evt-9", "listing.removed.v1", ev), map[string]string{"ce_id": "evt-9"}))
	assert.Equal(t, []string{"a.jpg"}, photos.urls)
	assert.NoError(t, Loopback{}.Publish(context.Background(), "t", "k", nil, nil))
}

func TestProducerOrdersHeadersAndWrapsFailures(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if len(msg.Headers) != 2 || string(msg.Headers[0].Key) != "ce_id" || string(msg.Headers[1].Key) != "ce_type" {
			return assert.AnError
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := NewProducerFrom(mock)
	headers := map[string]string{"ce_type": "listing.removed.v1", "ce_id": "evt-1"}
	require.NoError(t, p.Publish(context.Background(), "listing.events.v1", "L", []byte(`{}`), headers))
	err := p.Publish(context.Background(), "listing.events.v1", "L", []byte(`{}`), headers)
	require.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), "listing.events.v1/L")
	require.NoError(t, p.Close())
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("")
	assert.Equal(t, DefaultClientID, cfg.ClientID)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
	require.NoError(t, cfg.Validate())
}
