package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLog_CapsAtCapacityNewestFirst(t *testing.T) {
	l := NewLog(DefaultCapacity, discardLogger())
	for i := 0; i < 250; i++ {
		l.Record(domain.Notification{Kind: domain.KindInfo, Message: fmt.Sprintf("m%d", i)})
	}

	got := l.List()
	require.Len(t, got, 200)
	assert.Equal(t, 200, l.Len())
	assert.Equal(t, "m249", got[0].Message)
	assert.Equal(t, "m50", got[199].Message)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, fmt.Sprintf("m%d", 249-i), got[i].Message)
	}
}

func TestLog_PartialFill(t *testing.T) {
	l := NewLog(5, discardLogger())
	l.Record(domain.Notification{Message: "a"})
	l.Record(domain.Notification{Message: "b"})

	got := l.List()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
	assert.Equal(t, "a", got[1].Message)
	assert.Equal(t, domain.KindInfo, got[0].Kind)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestLog_ConcurrentRecord(t *testing.T) {
	l := NewLog(50, discardLogger())
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Record(domain.Notification{Kind: domain.KindBuy})
				_ = l.List()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

type recordingSender struct {
	mu   sync.Mutex
	got  []domain.Notification
	fail error
}

func (s *recordingSender) Send(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.fail
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestLog_ForwardsAllowedKinds(t *testing.T) {
	sender := &recordingSender{}
	l := NewLog(10, discardLogger())
	l.EnableForwarding(NewNotifier([]Sender{sender}, []string{"buy", " SELL "}, discardLogger()), 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.RunForwarder(ctx)
		close(done)
	}()

	l.Record(domain.Notification{Kind: domain.KindBuy, Market: "KRW-BTC", Message: "bought"})
	l.Record(domain.Notification{Kind: domain.KindInfo, Message: "noise"})
	l.Record(domain.Notification{Kind: domain.KindSell, Market: "KRW-BTC", Message: "sold"})

	assert.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 3, l.Len())
}

func TestLog_ForwardingDisabledWithoutSenders(t *testing.T) {
	l := NewLog(10, discardLogger())
	l.EnableForwarding(NewNotifier(nil, nil, discardLogger()), 8)
	assert.Nil(t, l.forward)
	assert.NoError(t, l.RunForwarder(context.Background()))
}

func TestNotifier_CombinesSenderErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{fail: fmt.Errorf("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), domain.Notification{Kind: domain.KindError, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, 1, ok.count())
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "[BUY] KRW-BTC", title(domain.Notification{Kind: domain.KindBuy, Market: "KRW-BTC"}))
	assert.Equal(t, "[WARNING]", title(domain.Notification{Kind: domain.KindWarning}))
}
