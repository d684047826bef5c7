package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/georgemunganga/printa-checkout/internal/httpclient"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newQueue(t *testing.T, m *metrics.Registry, cfg QueueConfig) *Queue {
	t.Helper()
	q := NewQueue(cfg, logger.FromZap(zaptest.NewLogger(t)), m)
	t.Cleanup(func() { q.Close(context.Background()) })
	return q
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	m := metrics.NewRegistry()
	q := NewQueue(QueueConfig{Workers: 1, Size: 4, MaxAttempts: 3, InitialInterval: time.Millisecond},
		logger.FromZap(zaptest.NewLogger(t)), m)

	var calls int32
	require.True(t, q.Enqueue(Task{Device: KindDrawer, OrderID: "o1", Run: func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("drawer busy")
		}
		return nil
	}}))
	q.Close(context.Background())

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.DeviceTasks.WithLabelValues("drawer", metrics.OutcomeDone)))
}

func TestQueueGivesUpAfterMaxAttempts(t *testing.T) {
	m := metrics.NewRegistry()
	q := NewQueue(QueueConfig{Workers: 2, Size: 4, MaxAttempts: 2, InitialInterval: time.Millisecond},
		logger.FromZap(zaptest.NewLogger(t)), m)

	var calls int32
	q.Enqueue(Task{Device: KindPrinter, Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("paper out")
	}})
	q.Close(context.Background())

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.DeviceTasks.WithLabelValues("printer", metrics.OutcomeFailed)))
}

func TestQueueDropsWhenFull(t *testing.T) {
	m := metrics.NewRegistry()
	q := newQueue(t, m, QueueConfig{Workers: 1, Size: 1, MaxAttempts: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	block := func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	require.True(t, q.Enqueue(Task{Device: KindDrawer, Run: block}))
	<-started
	require.True(t, q.Enqueue(Task{Device: KindDrawer, Run: func(context.Context) error { return nil }}))
	assert.False(t, q.Enqueue(Task{Device: KindDrawer, Run: func(context.Context) error { return nil }}))
	close(release)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.DeviceTasks.WithLabelValues("drawer", metrics.OutcomeDropped)))
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(QueueConfig{}, nil, nil)
	q.Close(context.Background())
	assert.False(t, q.Enqueue(Task{Device: KindDrawer, Run: func(context.Context) error { return nil }}))
}

func TestAttemptTimeout(t *testing.T) {
	m := metrics.NewRegistry()
	q := NewQueue(QueueConfig{Workers: 1, Size: 1, MaxAttempts: 1}, nil, m)
	q.Enqueue(Task{Device: KindPoleDisplay, Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	q.Close(context.Background())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.DeviceTasks.WithLabelValues("pole_display", metrics.OutcomeFailed)))
}

func TestHubDrivesCollaborators(t *testing.T) {
	var drawerBody, printBody map[string]interface{}
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/drawer/open":
			drawerBody = body
		case "/print/receipt":
			printBody = body
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer agent.Close()

	shown := make(chan DisplayMessage, 1)
	upgrader := websocket.Upgrader{}
	display := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg DisplayMessage
		if err := conn.ReadJSON(&msg); err == nil {
			shown <- msg
		}
	}))
	defer display.Close()

	hc := httpclient.NewDefaultClient(httpclient.ClientConfig{Timeout: time.Second}, nil)
	m := metrics.NewRegistry()
	q := NewQueue(QueueConfig{Workers: 2, Size: 8, MaxAttempts: 1}, logger.FromZap(zaptest.NewLogger(t)), m)
	hub := NewHub(q,
		NewHTTPDrawer(agent.URL, hc),
		NewWSPoleDisplay("ws"+strings.TrimPrefix(display.URL, "http")),
		NewHTTPPrinter(agent.URL, hc),
		Timeouts{Drawer: time.Second, Display: time.Second, Print: time.Second},
	)

	assert.True(t, hub.OpenDrawer("o1", "cash"))
	assert.True(t, hub.Display(DisplayMessage{OrderID: "o1", Currency: "ZMW", Total: decimal.NewFromInt(100), Change: decimal.NewFromInt(20)}))
	assert.True(t, hub.Print(Receipt{OrderID: "o1", Reference: "ref-1", Total: decimal.NewFromInt(100)}))
	q.Close(context.Background())

	require.NotNil(t, drawerBody)
	assert.Equal(t, "cash", drawerBody["reason"])
	require.NotNil(t, printBody)
	assert.Equal(t, "ref-1", printBody["reference"])

	select {
	case msg := <-shown:
		assert.True(t, msg.Change.Equal(decimal.NewFromInt(20)))
	case <-time.After(2 * time.Second):
		t.Fatal("pole display never received the totals")
	}
	assert.Equal(t, 2.0, promtest.ToFloat64(m.DeviceTasks.WithLabelValues("drawer", metrics.OutcomeDone))+
		promtest.ToFloat64(m.DeviceTasks.WithLabelValues("printer", metrics.OutcomeDone)))
}

func TestHubIgnoresMissingDevices(t *testing.T) {
	q := newQueue(t, nil, QueueConfig{})
	hub := NewHub(q, nil, nil, nil, Timeouts{})
	assert.False(t, hub.OpenDrawer("o1", "cash"))
	assert.False(t, hub.Display(DisplayMessage{}))
	assert.False(t, hub.Print(Receipt{}))

	var nilHub *Hub
	assert.False(t, nilHub.OpenDrawer("o1", "cash"))
}
