package listener

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"backup-sentinel/internal/backup"
)

func TestPubSubSource(t *testing.T) {
	var (
		mu    sync.Mutex
		calls = map[string]map[string]interface{}{}
	)
	payload := base64.StdEncoding.EncodeToString([]byte(`{"databaseInstance":"prod-1","databaseName":"orders"}`))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls[r.URL.Path] = body
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/projects/sec/subscriptions/backups:pull":
			_, _ = w.Write([]byte(`{"receivedMessages":[{"ackId":"a1","message":{"messageId":"m1","data":"` + payload + `","publishTime":"2026-07-01T10:00:00.5Z"}}]}`))
		case "/v1/projects/sec/subscriptions/backups:acknowledge",
			"/v1/projects/sec/subscriptions/backups:modifyAckDeadline":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	src, err := NewPubSubSource(ctx, PubSubConfig{ProjectID: "sec", Subscription: "backups"},
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	messages, err := src.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "a1", messages[0].AckID)
	assert.JSONEq(t, `{"databaseInstance":"prod-1","databaseName":"orders"}`, string(messages[0].Data))
	assert.Equal(t, 2026, messages[0].PublishTime.Year())

	require.NoError(t, src.Ack(ctx, "a1"))
	require.NoError(t, src.Nack(ctx, "a2"))
	require.NoError(t, src.Ack(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, float64(5), calls["/v1/projects/sec/subscriptions/backups:pull"]["maxMessages"])
	assert.Equal(t, []interface{}{"a1"}, calls["/v1/projects/sec/subscriptions/backups:acknowledge"]["ackIds"])
	nack := calls["/v1/projects/sec/subscriptions/backups:modifyAckDeadline"]
	assert.Equal(t, []interface{}{"a2"}, nack["ackIds"])
	assert.Equal(t, float64(0), nack["ackDeadlineSeconds"])
}

func TestPubSubSourceRequiresSubscription(t *testing.T) {
	_, err := NewPubSubSource(context.Background(), PubSubConfig{ProjectID: "sec"})
	assert.Error(t, err)
	var be *backup.BackupError
	assert.ErrorAs(t, err, &be)
}
