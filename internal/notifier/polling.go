package notifier

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	pollTimeout = 30 * time.Second
	pollBackoff = 5 * time.Second
)

// CommandHandler is called when an operator command is received.
type CommandHandler func(ctx context.Context, command string) string

type update struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type getUpdatesParams struct {
	Offset         int      `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// StartPolling long-polls for operator commands until ctx is cancelled.
// Messages from any chat other than the operator chat are ignored.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	client := &http.Client{Timeout: pollTimeout + 5*time.Second}
	offset := 0
	for ctx.Err() == nil {
		var updates []update
		err := t.call(ctx, client, "getUpdates", getUpdatesParams{
			Offset:         offset,
			Timeout:        int(pollTimeout / time.Second),
			AllowedUpdates: []string{"message"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.logger.Warn("poll updates", zap.Error(err))
			sleep(ctx, pollBackoff)
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			t.dispatch(ctx, u, handler)
		}
	}
	t.logger.Info("telegram polling stopped")
}

func (t *TelegramNotifier) dispatch(ctx context.Context, u update, handler CommandHandler) {
	if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
		return
	}
	chat := strconv.FormatInt(u.Message.Chat.ID, 10)
	if chat != t.ChatID {
		t.logger.Warn("ignoring command from unknown chat", zap.String("chat_id", chat))
		return
	}
	command := strings.TrimSpace(u.Message.Text)
	t.logger.Info("received command", zap.String("command", command))
	reply := handler(ctx, command)
	if reply == "" {
		return
	}
	if err := t.Send(ctx, t.ChatID, reply); err != nil {
		t.logger.Error("send reply", zap.String("command", command), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
