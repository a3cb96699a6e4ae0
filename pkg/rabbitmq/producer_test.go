package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/rabbitmq/amqp091-go"
)

type channelStub struct {
	mu           sync.Mutex
	declareFails int
	publishFails int
	published    int
	closed       bool
}

func (c *channelStub) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareFails > 0 {
		c.declareFails--
		return errors.New("channel/connection is not open")
	}
	return nil
}

func (c *channelStub) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishFails > 0 {
		c.publishFails--
		return errors.New("channel/connection is not open")
	}
	c.published++
	return nil
}

func (c *channelStub) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *channelStub) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

type openerStub struct {
	mu     sync.Mutex
	err    error
	opened []*channelStub
}

func (o *openerStub) openChannel() (amqpChannel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	ch := &channelStub{}
	o.opened = append(o.opened, ch)
	return ch, nil
}

func (o *openerStub) Close() error { return nil }

func (o *openerStub) openedChannels() []*channelStub {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*channelStub, len(o.opened))
	copy(out, o.opened)
	return out
}

func newTestProducer(ch *channelStub, opener *openerStub) *EventProducer {
	return &EventProducer{
		conn:    opener,
		channel: ch,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestPublishReopensChannelAfterDeclareFailure(t *testing.T) {
	ch := &channelStub{declareFails: 1}
	opener := &openerStub{}
	producer := newTestProducer(ch, opener)

	err := producer.Publish(context.Background(), "scribelink.events", "presence.updated.abc", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("expected publish to recover via a fresh channel, got %v", err)
	}

	opened := opener.openedChannels()
	if len(opened) != 1 {
		t.Fatalf("expected exactly one replacement channel, got %d", len(opened))
	}
	if got := opened[0].publishedCount(); got != 1 {
		t.Fatalf("expected the replacement channel to carry the publish, got %d", got)
	}
}

func TestPublishRetriesOnceAfterPublishFailure(t *testing.T) {
	ch := &channelStub{publishFails: 1}
	opener := &openerStub{}
	producer := newTestProducer(ch, opener)

	err := producer.Publish(context.Background(), "scribelink.events", "presence.updated.abc", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("expected the retried publish to succeed, got %v", err)
	}

	opened := opener.openedChannels()
	if len(opened) != 1 || opened[0].publishedCount() != 1 {
		t.Fatalf("expected one publish on one replacement channel, got %+v", opened)
	}
}

func TestPublishReturnsErrorWhenReopenFails(t *testing.T) {
	ch := &channelStub{declareFails: 1}
	opener := &openerStub{err: errors.New("connection closed")}
	producer := newTestProducer(ch, opener)

	err := producer.Publish(context.Background(), "scribelink.events", "presence.updated.abc", map[string]string{"k": "v"})
	if err == nil {
		t.Fatal("expected an error when no replacement channel can be opened")
	}
}

func TestConcurrentPublishesSurviveChannelRecovery(t *testing.T) {
	// Several goroutines publish while the initial channel forces recovery;
	// every message must land and no channel swap may be lost.
	initial := &channelStub{declareFails: 2}
	opener := &openerStub{}
	producer := newTestProducer(initial, opener)

	const workers = 8
	const perWorker = 5

	errs := make(chan error, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				errs <- producer.Publish(context.Background(), "scribelink.events", "presence.updated.abc", map[string]string{"k": "v"})
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("expected every publish to succeed, got %v", err)
		}
	}

	total := initial.publishedCount()
	for _, ch := range opener.openedChannels() {
		total += ch.publishedCount()
	}
	if total != workers*perWorker {
		t.Fatalf("expected %d published messages across all channels, got %d", workers*perWorker, total)
	}
}
