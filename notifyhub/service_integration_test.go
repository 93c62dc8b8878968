//go:build integration

package notifyhub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-notifyhub/internal/registry"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
	fsStore "github.com/tinywideclouds/go-notifyhub/internal/storage/firestore"
	"github.com/tinywideclouds/go-notifyhub/notifyhub"
	"github.com/tinywideclouds/go-notifyhub/notifyhub/config"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// --- MOCKS ---

type recordingDispatcher struct {
	mu        sync.Mutex
	callCount int
	lastToken string
	lastTitle string
}

func (m *recordingDispatcher) Send(_ context.Context, pushToken string, msg notify.Message) (notify.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastToken = pushToken
	m.lastTitle = msg.Title
	return notify.SendResult{MessageID: fmt.Sprintf("projects/p/messages/%d", m.callCount)}, nil
}

func (m *recordingDispatcher) calls() (int, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount, m.lastToken, m.lastTitle
}

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context) (string, error) { return "ya29.static", nil }
func (staticTokens) ProjectID(context.Context) (string, error)   { return "p", nil }
func (staticTokens) Invalidate()                                 {}

// --- TEST ---

func TestNotifyHub_QueuedSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { fsClient.Close() })

	store := fsStore.NewFirestoreStore(fsClient)

	// 2. Arrange
	topicID := "send-" + uuid.NewString()
	subID := topicID + "-sub"
	createPubsubResources(t, ctx, psClient, projectID, topicID, subID, nil)

	dispatcher := &recordingDispatcher{}
	consumer, err := messagepipeline.NewGooglePubsubConsumer(messagepipeline.NewGooglePubsubConsumerDefaults(subID), psClient, logger)
	require.NoError(t, err)

	svc, err := notifyhub.New(
		&config.Config{ListenAddr: ":0", SecretKey: "s", NumPipelineWorkers: 2},
		notifyhub.Dependencies{Store: store, Tokens: staticTokens{}, Dispatcher: dispatcher, Consumer: consumer},
		logger,
	)
	require.NoError(t, err)

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()
	go func() { _ = svc.Start(svcCtx) }()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	// Step A: register a device directly against the store
	reg, err := registry.New(store, logger).RegisterOrGet(ctx, "android-token-999", "Pixel")
	require.NoError(t, err)

	// Step B: publish a send request addressed by API key
	payload, _ := json.Marshal(sender.Request{APIKey: reg.APIKey, Title: "Hello", Content: "World"})
	_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _, _ := dispatcher.calls()
		return n == 1
	}, 10*time.Second, 100*time.Millisecond)

	_, token, title := dispatcher.calls()
	assert.Equal(t, "android-token-999", token)
	assert.Equal(t, "Hello", title)
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string, deadLetter *pubsubpb.DeadLetterPolicy) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy:   deadLetter,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
