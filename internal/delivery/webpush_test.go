package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sraws/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVAPID(t *testing.T) VAPID {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return VAPID{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@sraws.test"}
}

func browserSubscription(t *testing.T, endpoint string) models.WebPushSubscription {
	t.Helper()
	// any P-256 public key works as the browser key
	_, p256dh, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return models.WebPushSubscription{
		Endpoint: endpoint,
		Keys:     models.WebPushKeys{P256dh: p256dh, Auth: "AAAAAAAAAAAAAAAAAAAAAA"},
	}
}

func TestWebPushChannel_Deliver(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	ch := NewWebPushChannel(newVAPID(t), srv.Client())
	to := Recipient{Subscriptions: []models.WebPushSubscription{
		browserSubscription(t, srv.URL+"/ok"),
		browserSubscription(t, srv.URL+"/gone"),
		browserSubscription(t, srv.URL+"/broken"),
	}}

	res := ch.Deliver(context.Background(), to, Payload{Title: "New like", Body: "bob liked your post"})

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "each subscription is attempted independently")
	assert.Equal(t, 3, res.Targets)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{srv.URL + "/gone"}, res.Stale)
	assert.Contains(t, res.Error, "500")
}

func TestWebPushChannel_SkipsWithoutSubscriptions(t *testing.T) {
	ch := NewWebPushChannel(newVAPID(t), nil)
	res := ch.Deliver(context.Background(), Recipient{}, Payload{})
	assert.True(t, res.Skipped)
}

func TestWebPushChannel_SkipsWithoutVAPIDKeys(t *testing.T) {
	ch := NewWebPushChannel(VAPID{}, nil)
	res := ch.Deliver(context.Background(), Recipient{Subscriptions: []models.WebPushSubscription{{Endpoint: "https://push.example"}}}, Payload{})
	assert.True(t, res.Skipped)
}
