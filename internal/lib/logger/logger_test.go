package logger

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSender) SendMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestTelegramHandlerForwardsAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sender := &recordingSender{}

	log := SetupTelegramHandler(base, sender, slog.LevelError)
	log = log.With(slog.String("module", "test"))

	log.Info("just info")
	log.Error("boom", slog.String("user_key", "whatsapp:1"))

	require.Len(t, sender.msgs, 1)
	require.Contains(t, sender.msgs[0], "ERROR: boom")
	require.Contains(t, sender.msgs[0], "module: test")
	require.Contains(t, sender.msgs[0], "user_key: whatsapp:1")
	require.Contains(t, buf.String(), "just info")
}

func TestTelegramHandlerNilSender(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Same(t, base, SetupTelegramHandler(base, nil, slog.LevelError))
}
