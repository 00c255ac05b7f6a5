package aqmingestor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Config"
	dashboard "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Dashboard"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
	parser "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Parser"
	implementation "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Repository/Implementation"
)

// fakeStore fails the first failN inserts, then records the rest
type fakeStore struct {
	mu      sync.Mutex
	failN   int
	calls   int
	err     error
	written []aqmmodels.Reading
}

func (f *fakeStore) InsertReading(_ context.Context, r aqmmodels.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failN != 0 {
		if f.failN > 0 {
			f.failN--
		}
		if f.err != nil {
			return f.err
		}
		return errors.New("store unavailable")
	}
	f.written = append(f.written, r)
	return nil
}

// fakeMessage satisfies mqtt.Message
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// pendingToken never completes until released
type pendingToken struct {
	done chan struct{}
}

func (t *pendingToken) Wait() bool { <-t.done; return true }
func (t *pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *pendingToken) Done() <-chan struct{} { return t.done }
func (t *pendingToken) Error() error          { return nil }

type publishCall struct {
	topic string
	qos   byte
}

// fakeClient is connected and records publishes whose acks never arrive
type fakeClient struct {
	mqtt.Client
	token *pendingToken

	mu        sync.Mutex
	published []publishCall
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishCall{topic: topic, qos: qos})
	return c.token
}

func testIngest() config.IngestConfig {
	return config.IngestConfig{
		ParserMode:    "positional",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		BreakerLimit:  0,
		BreakerReset:  time.Minute,
	}
}

func newTestIngestor(t *testing.T, store *fakeStore, ingest config.IngestConfig, spool *Spool) *Ingestor {
	t.Helper()
	p := parser.New(parser.ModePositional, logger.Nop())
	return New(config.MQTTConfig{Topic: "iot"}, ingest, p, store, spool, logger.Nop())
}

func TestHandlePayloadStoresReading(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(t, store, testIngest(), nil)

	before := time.Now()
	ing.onMessage(nil, fakeMessage{topic: "iot", payload: []byte("CO: 949 ppm | Moisture: 94%")})

	if len(store.written) != 1 {
		t.Fatalf("written = %d, want 1", len(store.written))
	}
	got := store.written[0]
	if got.COPPM != 949 || got.Moisture != 94 {
		t.Errorf("got co=%d moisture=%d", got.COPPM, got.Moisture)
	}
	if got.Timestamp.Before(before) {
		t.Errorf("timestamp %v earlier than receipt", got.Timestamp)
	}
}

func TestHandlePayloadOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		failN     int
		withSpool bool
		want      Outcome
		wantCalls int
	}{
		{name: "valid", payload: "CO: 10 | Moisture: 20", want: OutcomeStored, wantCalls: 1},
		{name: "one number", payload: "CO: 949", want: OutcomeRejected, wantCalls: 0},
		{name: "no numbers", payload: "hello", want: OutcomeRejected, wantCalls: 0},
		{name: "empty", payload: "", want: OutcomeRejected, wantCalls: 0},
		{name: "transient failure retried", payload: "1 2", failN: 2, want: OutcomeStored, wantCalls: 3},
		{name: "persistent failure dropped", payload: "1 2", failN: -1, want: OutcomeDropped, wantCalls: 3},
		{name: "persistent failure spooled", payload: "1 2", failN: -1, withSpool: true, want: OutcomeSpooled, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{failN: tt.failN}
			var spool *Spool
			if tt.withSpool {
				var err error
				spool, err = NewSpool(filepath.Join(t.TempDir(), "readings.jsonl"))
				if err != nil {
					t.Fatal(err)
				}
			}
			ing := newTestIngestor(t, store, testIngest(), spool)

			if got := ing.HandlePayload(context.Background(), []byte(tt.payload)); got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			if store.calls != tt.wantCalls {
				t.Errorf("store calls = %d, want %d", store.calls, tt.wantCalls)
			}
		})
	}
}

func TestSpooledReadingsReplayInOrder(t *testing.T) {
	spool, err := NewSpool(filepath.Join(t.TempDir(), "spool", "readings.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	down := &fakeStore{failN: -1}
	ing := newTestIngestor(t, down, testIngest(), spool)
	for _, p := range []string{"1 2", "3 4", "5 6"} {
		if got := ing.HandlePayload(context.Background(), []byte(p)); got != OutcomeSpooled {
			t.Fatalf("payload %q outcome = %s, want spooled", p, got)
		}
	}

	up := &fakeStore{}
	restarted := newTestIngestor(t, up, testIngest(), spool)
	res := restarted.ReplaySpool(context.Background())
	if res.Replayed != 3 || res.Remaining != 0 {
		t.Fatalf("replay = %+v", res)
	}
	for i, want := range []int{1, 3, 5} {
		if up.written[i].COPPM != want {
			t.Errorf("written[%d].COPPM = %d, want %d", i, up.written[i].COPPM, want)
		}
	}

	// nothing left for the next start
	again := restarted.ReplaySpool(context.Background())
	if again.Replayed != 0 {
		t.Errorf("second replay = %+v", again)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	ingest := testIngest()
	ingest.RetryAttempts = 1
	ingest.BreakerLimit = 2
	ingest.BreakerReset = time.Hour

	store := &fakeStore{failN: -1}
	ing := newTestIngestor(t, store, ingest, nil)

	for i := 0; i < 2; i++ {
		ing.HandlePayload(context.Background(), []byte("1 2"))
	}
	if state, failures := ing.BreakerState(); state != StateOpen || failures != 2 {
		t.Fatalf("breaker = %s/%d, want open/2", state, failures)
	}

	// open breaker short-circuits without touching the store
	if got := ing.HandlePayload(context.Background(), []byte("1 2")); got != OutcomeDropped {
		t.Errorf("outcome = %s, want dropped", got)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}
}

func TestIsConnectedBeforeStart(t *testing.T) {
	ing := newTestIngestor(t, &fakeStore{}, testIngest(), nil)
	if ing.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
	ing.Stop()
}

func TestEndToEndPayloadToDashboard(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository()
	clock := time.Now().Add(-time.Minute)
	p := parser.New(parser.ModePositional, logger.Nop()).WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	ing := New(config.MQTTConfig{Topic: "iot"}, testIngest(), p, repo, nil, logger.Nop())

	if got := ing.HandlePayload(context.Background(), []byte("CO: 949 ppm | Moisture: 94%")); got != OutcomeStored {
		t.Fatalf("outcome = %s", got)
	}

	svc, err := dashboard.NewService(repo, config.DashboardSettings{Timezone: "UTC", TrendLimit: 50, HistoryPageSize: 100}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	view, err := svc.Render(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if view.Metrics.COLevel != "949 PPM" || view.Metrics.Moisture != "94%" {
		t.Errorf("metrics = %+v", view.Metrics)
	}
	if view.Metrics.AirQuality.Label != "Poor" {
		t.Errorf("air quality = %+v", view.Metrics.AirQuality)
	}
	if !view.Freshness.Active {
		t.Errorf("freshness = %+v", view.Freshness)
	}

	ing.HandlePayload(context.Background(), []byte("CO: 1200 ppm | Moisture: 90%"))
	view, err = svc.Render(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if view.Metrics.AirQuality.Label != "Danger" || view.History.Total != 2 {
		t.Errorf("after second reading: %+v, total %d", view.Metrics.AirQuality, view.History.Total)
	}
}

func TestErrorNoticeDoesNotBlockHandler(t *testing.T) {
	token := &pendingToken{done: make(chan struct{})}
	t.Cleanup(func() { close(token.done) })
	client := &fakeClient{token: token}

	p := parser.New(parser.ModePositional, logger.Nop())
	ing := New(config.MQTTConfig{Topic: "iot", ErrorTopic: "iot/errors", QoS: 2}, testIngest(), p, &fakeStore{}, nil, logger.Nop())
	ing.client = client

	done := make(chan Outcome, 1)
	go func() { done <- ing.HandlePayload(context.Background(), []byte("hello")) }()

	select {
	case got := <-done:
		if got != OutcomeRejected {
			t.Errorf("outcome = %s, want rejected", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked waiting for the error notice")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.published) != 1 {
		t.Fatalf("published = %+v, want one notice", client.published)
	}
	if call := client.published[0]; call.topic != "iot/errors" || call.qos != 0 {
		t.Errorf("publish = %+v, want iot/errors at QoS 0", call)
	}
}

func TestSpoolDrainsAfterStoreRecovers(t *testing.T) {
	spool, err := NewSpool(filepath.Join(t.TempDir(), "readings.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	// the first message uses up all three failing attempts, the second goes through
	store := &fakeStore{failN: 3}
	ing := newTestIngestor(t, store, testIngest(), spool)

	if got := ing.HandlePayload(context.Background(), []byte("1 2")); got != OutcomeSpooled {
		t.Fatalf("first outcome = %s, want spooled", got)
	}
	if got := ing.HandlePayload(context.Background(), []byte("3 4")); got != OutcomeStored {
		t.Fatalf("second outcome = %s, want stored", got)
	}

	if len(store.written) != 2 || store.written[0].COPPM != 3 || store.written[1].COPPM != 1 {
		t.Fatalf("written = %+v, want the new reading then the spooled one", store.written)
	}
	if res := ing.ReplaySpool(context.Background()); res.Replayed != 0 || res.Remaining != 0 {
		t.Errorf("spool not drained: %+v", res)
	}

	// nothing pending, so a normal write does not touch the spool
	if got := ing.HandlePayload(context.Background(), []byte("5 6")); got != OutcomeStored {
		t.Fatalf("third outcome = %s", got)
	}
	if store.calls != 6 {
		t.Errorf("store calls = %d, want 6", store.calls)
	}
}
