package aqmingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Config"
	logger "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Logger"
	parser "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Parser"
	interfaces "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Repository/Interfaces"
)

// Outcome is what happened to one inbound message
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeSpooled
	OutcomeRejected // payload did not parse
	OutcomeDropped  // store and spool both failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeSpooled:
		return "spooled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// errorPublishTimeout bounds how long a background error notice may wait for the broker
const errorPublishTimeout = 5 * time.Second

type Ingestor struct {
	cfg     config.MQTTConfig
	parser  *parser.Parser
	store   interfaces.ReadingWriter
	writer  *retryingWriter
	breaker *CircuitBreaker
	spool   *Spool
	logger  *logger.Logger

	// spoolPending is set while the spool may hold readings the store has not taken
	spoolPending atomic.Bool

	client mqtt.Client
	ctx    context.Context
}

// New wires the parser and store together. spool may be nil to disable spooling.
func New(cfg config.MQTTConfig, ingest config.IngestConfig, p *parser.Parser, store interfaces.ReadingWriter, spool *Spool, log *logger.Logger) *Ingestor {
	breaker := NewCircuitBreaker(ingest.BreakerLimit, ingest.BreakerReset)
	return &Ingestor{
		cfg:    cfg,
		parser: p,
		store:  store,
		writer: &retryingWriter{
			store:    store,
			attempts: ingest.RetryAttempts,
			delay:    ingest.RetryDelay,
			breaker:  breaker,
		},
		breaker: breaker,
		spool:   spool,
		logger:  log.WithComponent("ingestor"),
		ctx:     context.Background(),
	}
}

// Start replays the spool, connects to the broker and subscribes on every (re)connect.
// Messages are handled one at a time in delivery order.
func (i *Ingestor) Start(ctx context.Context) error {
	i.ctx = ctx
	i.ReplaySpool(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.GetMQTTBrokerURL()).
		SetClientID(i.cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(i.cfg.KeepAlive).
		SetPingTimeout(i.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)

	if i.cfg.BrokerUser != "" {
		opts.SetUsername(i.cfg.BrokerUser)
		opts.SetPassword(i.cfg.BrokerPass)
	}

	if i.cfg.UseTLS {
		tlsCfg, err := tlsConfig(i.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		i.logger.Logger.Info().Str("topic", i.cfg.Topic).Msg("MQTT connected, subscribing to topic")
		if token := c.Subscribe(i.cfg.Topic, i.cfg.QoS, i.onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Str("topic", i.cfg.Topic).Msg("Failed to subscribe to MQTT topic")
		}
	}

	i.logger.Logger.Info().Str("broker", i.cfg.GetMQTTBrokerURL()).Msg("Connecting to MQTT broker")
	i.client = mqtt.NewClient(opts)
	if tk := i.client.Connect(); tk.Wait() && tk.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tk.Error())
	}
	return nil
}

func (i *Ingestor) Stop() {
	if i.client != nil && i.client.IsConnected() {
		i.client.Disconnect(500)
	}
}

func (i *Ingestor) IsConnected() bool {
	return i.client != nil && i.client.IsConnected()
}

// BreakerState exposes the store circuit breaker for the health endpoint
func (i *Ingestor) BreakerState() (CircuitBreakerState, int) {
	return i.breaker.State()
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.HandlePayload(i.ctx, m.Payload())
}

// HandlePayload parses one payload and appends the reading to the store
func (i *Ingestor) HandlePayload(ctx context.Context, raw []byte) Outcome {
	payload := string(raw)
	i.logger.Logger.Debug().Str("payload", payload).Msg("Received MQTT message")

	reading := i.parser.Parse(payload)
	if reading == nil {
		i.publishError("parse_failed", "payload does not contain two integers", payload)
		return OutcomeRejected
	}

	err := i.writer.InsertReading(ctx, *reading)
	if err == nil {
		i.logger.Logger.Info().Int("co_ppm", reading.COPPM).Int("moisture", reading.Moisture).Msg("Reading stored")
		// The store is accepting writes again; drain what piled up while it was not
		if i.spoolPending.Load() {
			i.ReplaySpool(ctx)
		}
		return OutcomeStored
	}

	i.logger.Logger.Error().Err(err).Int("co_ppm", reading.COPPM).Int("moisture", reading.Moisture).Msg("Store write failed")
	if i.spool == nil {
		i.publishError("store_failed", err.Error(), payload)
		return OutcomeDropped
	}
	if spoolErr := i.spool.Append(*reading); spoolErr != nil {
		i.logger.Logger.Error().Err(spoolErr).Msg("Failed to spool reading, dropping it")
		i.publishError("store_failed", err.Error(), payload)
		return OutcomeDropped
	}
	i.spoolPending.Store(true)
	i.logger.Logger.Warn().Str("spool", i.spool.Path()).Msg("Reading spooled for later replay")
	return OutcomeSpooled
}

// ReplaySpool writes spooled readings back to the store
func (i *Ingestor) ReplaySpool(ctx context.Context) ReplayResult {
	if i.spool == nil {
		return ReplayResult{}
	}
	result, err := i.spool.Replay(ctx, i.store.InsertReading)
	i.spoolPending.Store(err != nil || result.Remaining > 0)
	event := i.logger.Logger.Info()
	if err != nil {
		event = i.logger.Logger.Warn().Err(err)
	}
	if err != nil || result.Replayed > 0 || result.Corrupt > 0 {
		event.Int("replayed", result.Replayed).
			Int("remaining", result.Remaining).
			Int("corrupt", result.Corrupt).
			Msg("Spool replay finished")
	}
	return result
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// publishError reports a dropped message on the error topic, if one is configured
func (i *Ingestor) publishError(errorType, message, payload string) {
	if i.cfg.ErrorTopic == "" || i.client == nil || !i.client.IsConnected() {
		return
	}

	errorPayload := map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"payload":    payload,
		"timestamp":  time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(errorPayload)
	if err != nil {
		i.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	// Called from the ordered message handler, which must not block on the broker:
	// QoS 0 and the token is checked off the handler goroutine.
	token := i.client.Publish(i.cfg.ErrorTopic, 0, false, payloadJSON)
	go func() {
		if !token.WaitTimeout(errorPublishTimeout) {
			i.logger.Logger.Warn().Str("topic", i.cfg.ErrorTopic).Msg("Timed out publishing error")
			return
		}
		if err := token.Error(); err != nil {
			i.logger.Logger.Error().Err(err).Str("topic", i.cfg.ErrorTopic).Msg("Failed to publish error")
		}
	}()
}

var _ interfaces.ReadingWriter = (*retryingWriter)(nil)
