package marketdata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/pkg/logger"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// priceUpdate is one message on the live price feed.
type priceUpdate struct {
	Ref       string `json:"ref"`
	Channel   string `json:"channel"`
	Price     int64  `json:"price"`
	Timestamp int64  `json:"ts"`
}

// parsePriceUpdate validates one feed message. The feed multiplexes message
// kinds as ["event", data] pairs; only "prices" events carry updates.
func parsePriceUpdate(message []byte) (*priceUpdate, error) {
	var rawMessage []json.RawMessage
	if err := json.Unmarshal(message, &rawMessage); err != nil {
		return nil, fmt.Errorf("failed to parse message array: %w", err)
	}
	if len(rawMessage) < 2 {
		return nil, fmt.Errorf("message array too short: expected 2 elements, got %d", len(rawMessage))
	}

	var event string
	if err := json.Unmarshal(rawMessage[0], &event); err != nil {
		return nil, fmt.Errorf("failed to parse event name: %w", err)
	}
	if event != "prices" {
		return nil, nil
	}

	var update priceUpdate
	if err := json.Unmarshal(rawMessage[1], &update); err != nil {
		return nil, fmt.Errorf("failed to parse price update: %w", err)
	}

	if err := domain.ValidateProductRef(update.Ref); err != nil {
		return nil, err
	}
	if _, ok := knownChannels[update.Channel]; !ok {
		return nil, fmt.Errorf("unknown channel %q", update.Channel)
	}
	if update.Price <= 0 {
		return nil, fmt.Errorf("non-positive price %d for %s", update.Price, update.Ref)
	}

	return &update, nil
}

// PriceStream consumes the upstream live price feed and mirrors updates into
// the current-price cache keys read by alert evaluation. The series cache is
// untouched: history stays owned by the HTTP client.
type PriceStream struct {
	url        string
	httpClient *http.Client
	store      Cache
	log        zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected    bool
	reconnecting bool
	stopped      bool
	stopChan     chan struct{}

	statsMu     sync.RWMutex
	updateCount int64
	lastUpdate  time.Time
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// Required because CDN edges negotiate HTTP/2 via TLS ALPN, but the
// WebSocket upgrade handshake needs HTTP/1.1.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewPriceStream creates a live price feed consumer.
func NewPriceStream(url string, store Cache, log zerolog.Logger) *PriceStream {
	return &PriceStream{
		url:        url,
		httpClient: createHTTP1Client(),
		store:      store,
		log:        logger.Component(log, "price_stream"),
		stopChan:   make(chan struct{}),
	}
}

// Start initializes the connection and the read loop. A failed initial dial
// is not fatal: the reconnect loop keeps trying in the background.
func (ps *PriceStream) Start() error {
	ps.log.Info().Str("url", ps.url).Msg("Starting price stream")

	if err := ps.connect(); err != nil {
		ps.log.Warn().Err(err).Msg("Initial price stream connection failed, will retry in background")
		go ps.reconnectLoop()
		return err
	}

	ps.mu.RLock()
	ctx := ps.connCtx
	ps.mu.RUnlock()
	go ps.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the stream.
func (ps *PriceStream) Stop() error {
	ps.mu.Lock()
	if ps.stopped {
		ps.mu.Unlock()
		return nil
	}
	ps.stopped = true
	ps.mu.Unlock()

	close(ps.stopChan)
	return ps.disconnect()
}

func (ps *PriceStream) connect() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, ps.url, &websocket.DialOptions{
		HTTPClient: ps.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial price stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	ps.conn = conn
	ps.connCtx = connCtx
	ps.cancelFunc = connCancel
	ps.connected = true

	if err := ps.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		ps.conn = nil
		ps.connCtx = nil
		ps.cancelFunc = nil
		ps.connected = false
		return fmt.Errorf("failed to subscribe to prices: %w", err)
	}

	ps.log.Info().Msg("Connected to price stream")
	return nil
}

func (ps *PriceStream) disconnect() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.conn == nil {
		return nil
	}

	if ps.cancelFunc != nil {
		ps.cancelFunc()
		ps.cancelFunc = nil
	}

	err := ps.conn.Close(websocket.StatusNormalClosure, "")
	ps.conn = nil
	ps.connCtx = nil
	ps.connected = false

	if err != nil {
		return fmt.Errorf("error closing price stream: %w", err)
	}
	return nil
}

func (ps *PriceStream) subscribe(ctx context.Context) error {
	subscribeMsg := []string{"prices"}

	data, err := json.Marshal(subscribeMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	return ps.conn.Write(writeCtx, websocket.MessageText, data)
}

func (ps *PriceStream) readMessages(ctx context.Context) {
	defer func() {
		ps.mu.RLock()
		stopped := ps.stopped
		ps.mu.RUnlock()
		if !stopped {
			go ps.reconnectLoop()
		}
	}()

	for {
		select {
		case <-ps.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		ps.mu.RLock()
		conn := ps.conn
		ps.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				ps.log.Info().Int("status", int(closeStatus)).Msg("Price stream closed normally")
			} else if ctx.Err() != nil {
				ps.log.Debug().Msg("Read cancelled by context")
			} else {
				ps.log.Error().Err(err).Msg("Unexpected price stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := ps.handleMessage(ctx, message); err != nil {
			// Keep reading despite bad messages
			ps.log.Warn().Err(err).Msg("Failed to handle price stream message")
		}
	}
}

func (ps *PriceStream) handleMessage(ctx context.Context, message []byte) error {
	update, err := parsePriceUpdate(message)
	if err != nil {
		return err
	}
	if update == nil {
		return nil
	}

	key := PriceKey(update.Ref, knownChannels[update.Channel])
	if err := ps.store.Set(ctx, key, domain.Money(update.Price), cache.TTLCurrentPrice); err != nil {
		return fmt.Errorf("failed to mirror price for %s: %w", update.Ref, err)
	}

	ps.statsMu.Lock()
	ps.updateCount++
	ps.lastUpdate = time.Now()
	ps.statsMu.Unlock()

	return nil
}

func (ps *PriceStream) reconnectLoop() {
	ps.mu.Lock()
	if ps.reconnecting || ps.stopped {
		ps.mu.Unlock()
		return
	}
	ps.reconnecting = true
	ps.mu.Unlock()

	defer func() {
		ps.mu.Lock()
		ps.reconnecting = false
		ps.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-ps.stopChan:
			return
		default:
		}

		ps.mu.RLock()
		stopped := ps.stopped
		ps.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			ps.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to price stream")
		} else {
			ps.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnection attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-ps.stopChan:
			return
		}

		if err := ps.connect(); err != nil {
			ps.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnection failed")
			continue
		}

		ps.mu.RLock()
		ctx := ps.connCtx
		ps.mu.RUnlock()
		go ps.readMessages(ctx)
		return
	}
}

// calculateBackoff returns the exponential backoff delay for an attempt,
// capped at maxReconnectDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// IsConnected returns current connection status.
func (ps *PriceStream) IsConnected() bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.connected
}

// Stats reports feed throughput for the system status endpoint.
func (ps *PriceStream) Stats() (count int64, lastUpdate time.Time) {
	ps.statsMu.RLock()
	defer ps.statsMu.RUnlock()
	return ps.updateCount, ps.lastUpdate
}
