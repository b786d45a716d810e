package cadiscovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Push-feed Listener — persistent websocket subscription to asset creation
// Reconnects forever with a fixed delay; a dropped feed never stops the
// poller path, the two discovery paths are independent.
// ---------------------------------------------------------------------------

// PushFeedConfig configures the websocket listener.
type PushFeedConfig struct {
	URL            string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	BufferSize     int
}

// DefaultPushFeedConfig returns production defaults.
func DefaultPushFeedConfig() PushFeedConfig {
	return PushFeedConfig{
		URL:            "wss://pumpportal.fun/api/data",
		ReconnectDelay: 5 * time.Second,
		PingInterval:   20 * time.Second,
		ReadTimeout:    60 * time.Second,
		BufferSize:     256,
	}
}

// PushFeed maintains the subscription and emits AssetEvents on a channel.
type PushFeed struct {
	config PushFeedConfig

	mu   sync.Mutex
	conn *websocket.Conn

	events  chan AssetEvent
	running atomic.Bool

	// Stats.
	connects   atomic.Int64
	disconnect atomic.Int64
	messages   atomic.Int64
	parsed     atomic.Int64
	parseErrs  atomic.Int64
	dropped    atomic.Int64
}

// NewPushFeed creates the listener.
func NewPushFeed(config PushFeedConfig) *PushFeed {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 20 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.BufferSize == 0 {
		config.BufferSize = 256
	}
	return &PushFeed{
		config: config,
		events: make(chan AssetEvent, config.BufferSize),
	}
}

// Events returns the asset event channel. Events are dropped, not blocked on,
// when the consumer falls behind.
func (f *PushFeed) Events() <-chan AssetEvent { return f.events }

// Start runs the connect/read loop until ctx is cancelled.
func (f *PushFeed) Start(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return fmt.Errorf("push feed already running")
	}
	defer f.running.Store(false)

	log.Info().Str("url", f.config.URL).Msg("ws: push feed starting")

	for {
		select {
		case <-ctx.Done():
			f.closeConn()
			return ctx.Err()
		default:
		}

		if err := f.connect(ctx); err != nil {
			log.Warn().Err(err).
				Dur("retry_in", f.config.ReconnectDelay).
				Msg("ws: connect failed")
			if !sleepCtx(ctx, f.config.ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		f.readUntilClosed(ctx)
		f.disconnect.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		log.Warn().
			Dur("retry_in", f.config.ReconnectDelay).
			Msg("ws: feed dropped, reconnecting")
		if !sleepCtx(ctx, f.config.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (f *PushFeed) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.config.URL, err)
	}

	sub := map[string]interface{}{"method": "subscribeNewToken"}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.connects.Add(1)

	log.Info().Msg("ws: subscribed to new token feed")
	return nil
}

func (f *PushFeed) closeConn() {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()
}

// readUntilClosed pumps messages until the connection dies or ctx cancels.
func (f *PushFeed) readUntilClosed(ctx context.Context) {
	defer f.closeConn()

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(pingDone)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-readCtx.Done()
		f.closeConn() // unblocks ReadMessage
	}()

	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Msg("ws: read error")
			}
			return
		}
		f.messages.Add(1)
		f.handleMessage(data)
	}
}

func (f *PushFeed) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			f.mu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("ws: ping failed")
				return
			}
		}
	}
}

// pushMessage is the feed's new-token notification shape.
type pushMessage struct {
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Mint         string  `json:"mint"`
	MarketCapSol float64 `json:"marketCapSol"`
}

// handleMessage parses one frame. A malformed frame is counted and skipped;
// it never tears down the connection.
func (f *PushFeed) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handler panic recovered")
		}
	}()

	var msg pushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.parseErrs.Add(1)
		log.Debug().Err(err).Msg("ws: unparseable frame")
		return
	}
	if msg.Mint == "" {
		// subscription acks and heartbeats land here
		return
	}
	f.parsed.Add(1)

	ev := AssetEvent{
		Name:      msg.Name,
		Symbol:    msg.Symbol,
		Address:   msg.Mint,
		CreatedAt: time.Now().UTC(), // push frames are creation notifications
		MarketCap: decimal.NewFromFloat(msg.MarketCapSol),
	}

	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
		log.Warn().Str("mint", msg.Mint).Msg("ws: event buffer full, dropping")
	}
}

// PushFeedStats is a snapshot of listener counters.
type PushFeedStats struct {
	Running     bool  `json:"running"`
	Connects    int64 `json:"connects"`
	Disconnects int64 `json:"disconnects"`
	Messages    int64 `json:"messages"`
	Parsed      int64 `json:"parsed"`
	ParseErrors int64 `json:"parse_errors"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns current counters.
func (f *PushFeed) Stats() PushFeedStats {
	return PushFeedStats{
		Running:     f.running.Load(),
		Connects:    f.connects.Load(),
		Disconnects: f.disconnect.Load(),
		Messages:    f.messages.Load(),
		Parsed:      f.parsed.Load(),
		ParseErrors: f.parseErrs.Load(),
		Dropped:     f.dropped.Load(),
	}
}
