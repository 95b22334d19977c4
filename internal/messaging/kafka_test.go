package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures int
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New(errors.ErrorTypeNetwork, "write", "broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// on returns the messages written to topic.
func (w *fakeWriter) on(topic string) []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []kafka.Message
	for _, m := range w.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestClient(failures int) (*KafkaClient, *fakeWriter) {
	w := &fakeWriter{failures: failures}
	return newKafkaClient(w, log.Discard(), nil), w
}

func TestNewKafkaClient(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard(), nil)

	w, ok := client.writer.(*kafka.Writer)
	if !ok {
		t.Fatal("NewKafkaClient() should build a kafka.Writer")
	}
	if w.Topic != "" {
		t.Errorf("writer topic = %q, want per-message topics", w.Topic)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Errorf("balancer = %T, want key hashing", w.Balancer)
	}
}

func TestKafkaClient_PublishSolution(t *testing.T) {
	client, w := newTestClient(0)

	event := &SolutionEvent{
		Hash:          "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
		Client:        "solo",
		Path:          "solo/cpu/chain-0",
		Class:         "block",
		Nonce:         2083236893,
		Version:       1,
		NTime:         1231006505,
		Bits:          0x1d00ffff,
		MidstateIndex: 0,
		Difficulty:    2536.4,
		Height:        0,
		FoundAt:       time.Date(2009, 1, 3, 18, 15, 5, 0, time.UTC),
	}

	if err := client.PublishSolution(context.Background(), event); err != nil {
		t.Fatalf("PublishSolution() error = %v", err)
	}

	msgs := w.on(TopicSolutions)
	if len(msgs) != 1 {
		t.Fatalf("expected one message on %s, got %d", TopicSolutions, len(msgs))
	}
	if got := string(msgs[0].Key); got != event.Hash {
		t.Errorf("key = %s, want %s", got, event.Hash)
	}

	var decoded structpb.Struct
	if err := proto.Unmarshal(msgs[0].Value, &decoded); err != nil {
		t.Fatalf("proto.Unmarshal() error = %v", err)
	}
	got, err := SolutionEventFromProto(&decoded)
	if err != nil {
		t.Fatalf("SolutionEventFromProto() error = %v", err)
	}
	if diff := cmp.Diff(event, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestKafkaClient_PublishBlockJSON(t *testing.T) {
	client, w := newTestClient(0)

	event := &BlockEvent{Hash: "abc", Height: 800000, Client: "solo", Status: "accepted"}
	if err := client.PublishBlock(context.Background(), event); err != nil {
		t.Fatalf("PublishBlock() error = %v", err)
	}

	var got BlockEvent
	if err := json.Unmarshal(w.on(TopicBlocks)[0].Value, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got.Status != "accepted" || got.Height != 800000 {
		t.Errorf("decoded %+v", got)
	}
}

func TestKafkaClient_PublishRetries(t *testing.T) {
	client, w := newTestClient(2)

	event := &HashrateEvent{Solver: "chain-0", Hashes: 1 << 20, HashesPerSec: 17476.3, SampledAt: time.Now()}
	if err := client.PublishHashrate(context.Background(), event); err != nil {
		t.Fatalf("PublishHashrate() error = %v", err)
	}
	if n := len(w.on(TopicHashrate)); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestKafkaClient_PublishCanceled(t *testing.T) {
	client, _ := newTestClient(100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.PublishJSON(ctx, TopicBlocks, "key", map[string]string{"a": "b"})
	if err == nil {
		t.Fatal("PublishJSON() should fail while the broker is down")
	}
	if !stderrors.Is(err, context.Canceled) && !errors.IsType(err, errors.ErrorTypeKafka) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestKafkaClient_Close(t *testing.T) {
	client, w := newTestClient(0)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
}
