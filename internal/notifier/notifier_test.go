package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"GoalSentinel/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type sentMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type fakeTelegram struct {
	mu      sync.Mutex
	sent    []sentMessage
	fail    bool
	updates string
	polled  int
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if f.fail {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			var m sentMessage
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			f.sent = append(f.sent, m)
			fmt.Fprint(w, `{"ok":true}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.polled++
			if f.polled == 1 {
				fmt.Fprint(w, f.updates)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeTelegram) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestNotifier(t *testing.T, fake *fakeTelegram) *TelegramNotifier {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	n := NewTelegramNotifier("TOKEN", "100", map[string]string{"u1": "200"}, "", zaptest.NewLogger(t))
	n.APIBase = srv.URL
	n.MaxRetries = 0
	return n
}

func TestNotifyRoutesToUserChat(t *testing.T) {
	fake := &fakeTelegram{}
	n := newTestNotifier(t, fake)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "u1", model.Notification{Title: "hi", Message: "a < b", Kind: model.KindRebalanced}))
	require.NoError(t, n.SendOperator(ctx, "report"))

	sent := fake.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "200", sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "a &lt; b")
	assert.Equal(t, "100", sent[1].ChatID)
}

func TestNotifyWithoutUserChatNeverReachesOperator(t *testing.T) {
	fake := &fakeTelegram{}
	n := newTestNotifier(t, fake)
	core, logs := observer.New(zap.WarnLevel)
	n.logger = zap.New(core)

	err := n.Notify(context.Background(), "u9", model.Notification{
		Title: "Goal at risk", Message: "House: 42% chance", Kind: model.KindRebalanced,
	})
	require.NoError(t, err)
	assert.Empty(t, fake.messages())

	entries := logs.FilterField(zap.String("user_id", "u9")).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "undeliverable")
}

func TestNotifyReportsFailure(t *testing.T) {
	fake := &fakeTelegram{fail: true}
	n := newTestNotifier(t, fake)
	err := n.Notify(context.Background(), "u1", model.Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestSendWithRetryHonoursContext(t *testing.T) {
	fake := &fakeTelegram{fail: true}
	n := newTestNotifier(t, fake)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := n.SendWithRetry(ctx, "100", "x", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollingHandlesOperatorCommandsOnly(t *testing.T) {
	fake := &fakeTelegram{updates: `{"ok":true,"result":[
		{"update_id":1,"message":{"text":"/jobs","chat":{"id":100}}},
		{"update_id":2,"message":{"text":"/run weekly-sweep","chat":{"id":666}}}
	]}`}
	n := newTestNotifier(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var commands []string
	done := make(chan struct{})
	go func() {
		n.StartPolling(ctx, func(_ context.Context, cmd string) string {
			mu.Lock()
			commands = append(commands, cmd)
			mu.Unlock()
			return "ok"
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fake.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/jobs"}, commands)
	assert.Equal(t, "ok", fake.messages()[0].Text)
}

func TestNotices(t *testing.T) {
	goal := model.Goal{
		ID:                  "g1",
		Name:                "Retirement",
		TargetAmount:        decimal.NewFromInt(50000),
		MonthlyContribution: decimal.NewFromInt(500),
	}
	rb := RebalancedNotice(goal, model.TierAggressive, model.TierModerate, 0.55, 0.70)
	assert.Equal(t, model.KindRebalanced, rb.Kind)
	assert.Contains(t, rb.Message, "55%")
	assert.Contains(t, rb.Message, "70%")
	assert.Contains(t, rb.Message, "from aggressive to moderate")

	low := LowProbabilityNotice(goal, model.TierConservative, 0.4, 0.7, 12345.6)
	assert.Equal(t, model.KindLowProbability, low.Kind)
	assert.Contains(t, low.Message, "$50,000")
	assert.Contains(t, low.Message, "$12,346")
	assert.Contains(t, low.Message, "monthly contribution of $500")
	assert.True(t, strings.HasPrefix(FormatNotification(low), "🚨 <b>Urgent: goal at risk</b>"))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zaptest.NewLogger(t))
	assert.NoError(t, n.Notify(context.Background(), "u1", model.Notification{Title: "t"}))
	assert.NoError(t, n.SendOperator(context.Background(), "report"))
}

func TestSendSurfacesAPIDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "100", nil, "", zaptest.NewLogger(t))
	n.APIBase = srv.URL
	err := n.Send(context.Background(), "100", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "status 400")
}
