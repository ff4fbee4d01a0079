package eventbus

import (
	"testing"
	"time"
)

func newTestBus(t *testing.T) (*Bus, func()) {
	t.Helper()
	srv, err := NewEmbeddedServer(&EmbeddedConfig{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("NewEmbeddedServer failed: %v", err)
	}
	return srv.Bus(), func() { srv.Close() }
}

func TestPublishPipeline_DeliversToSubscriber(t *testing.T) {
	bus, closeFn := newTestBus(t)
	defer closeFn()

	sub, err := bus.SubscribePipeline()
	if err != nil {
		t.Fatalf("SubscribePipeline failed: %v", err)
	}
	defer sub.Close()

	env := Envelope{Type: EventBatchQueued, BatchID: "batch-1", SupplierID: "supplier-1", TS: time.Now().UnixMilli()}
	if err := bus.PublishPipeline(env); err != nil {
		t.Fatalf("PublishPipeline failed: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.Type != EventBatchQueued || got.BatchID != "batch-1" {
			t.Errorf("unexpected envelope: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline event")
	}
}

func TestPublishBatchLog_ScopedToBatchSubject(t *testing.T) {
	bus, closeFn := newTestBus(t)
	defer closeFn()

	subA, err := bus.SubscribeBatchLog("batch-a")
	if err != nil {
		t.Fatalf("SubscribeBatchLog failed: %v", err)
	}
	defer subA.Close()

	subB, err := bus.SubscribeBatchLog("batch-b")
	if err != nil {
		t.Fatalf("SubscribeBatchLog failed: %v", err)
	}
	defer subB.Close()

	if err := bus.PublishBatchLog("batch-a", Envelope{Type: EventLog, BatchID: "batch-a"}); err != nil {
		t.Fatalf("PublishBatchLog failed: %v", err)
	}

	select {
	case got := <-subA.Events():
		if got.BatchID != "batch-a" {
			t.Errorf("unexpected envelope on batch-a channel: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch-a event")
	}

	select {
	case got := <-subB.Events():
		t.Errorf("batch-b channel should not have received batch-a's event, got %+v", got)
	case <-time.After(200 * time.Millisecond):
		// expected: no cross-subject delivery
	}
}
