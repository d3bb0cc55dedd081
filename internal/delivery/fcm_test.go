package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/sraws/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMulticast struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]bool
	err     error
}

func (f *fakeMulticast) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), m.Tokens...))
	if f.err != nil {
		return nil, f.err
	}
	br := &messaging.BatchResponse{}
	for _, tok := range m.Tokens {
		if f.fail[tok] {
			br.FailureCount++
			br.Responses = append(br.Responses, &messaging.SendResponse{Error: errors.New("internal error")})
			continue
		}
		br.SuccessCount++
		br.Responses = append(br.Responses, &messaging.SendResponse{Success: true, MessageID: "m-" + tok})
	}
	return br, nil
}

func devices(n int) []models.Device {
	out := make([]models.Device, n)
	for i := range out {
		out[i] = models.Device{Token: fmt.Sprintf("tok-%d", i), Type: models.DeviceTypeMobile}
	}
	return out
}

func TestFCMChannel_NoDevicesMakesNoCall(t *testing.T) {
	fake := &fakeMulticast{}
	res := NewFCMChannel(fake).Deliver(context.Background(), Recipient{}, Payload{Title: "t"})

	assert.True(t, res.Skipped)
	assert.Empty(t, fake.batches)
}

func TestFCMChannel_ChunksTokens(t *testing.T) {
	fake := &fakeMulticast{fail: map[string]bool{"tok-3": true}}
	res := NewFCMChannel(fake).Deliver(context.Background(), Recipient{Devices: devices(1001)}, Payload{Title: "t", Body: "b"})

	require.Len(t, fake.batches, 3)
	assert.Len(t, fake.batches[0], 500)
	assert.Len(t, fake.batches[1], 500)
	assert.Len(t, fake.batches[2], 1)
	assert.Equal(t, 1001, res.Targets)
	assert.Equal(t, 1000, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "internal error", res.Error)
	assert.Empty(t, res.Stale)
}

func TestFCMChannel_TransportErrorCountsChunkAsFailed(t *testing.T) {
	fake := &fakeMulticast{err: errors.New("unavailable")}
	res := NewFCMChannel(fake).Deliver(context.Background(), Recipient{Devices: devices(3)}, Payload{})

	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, "unavailable", res.Error)
}
