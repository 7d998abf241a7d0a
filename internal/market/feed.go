package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/polysignal/internal/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
)

const (
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second
)

// FeedMessage is one price event from the upstream market channel.
type FeedMessage struct {
	EventType string `json:"event_type"` // "price_change" or "last_trade_price"
	Market    string `json:"market"`
	Price     string `json:"price"`
}

// PriceFeed subscribes to a websocket market channel and appends every price it sees
// to a HistoryStore. It reconnects with exponential backoff until stopped.
type PriceFeed struct {
	url   string
	store *HistoryStore
	log   *slog.Logger

	mu        sync.Mutex // guards conn writes, subs, connected
	conn      *websocket.Conn
	subs      []string
	connected bool

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func NewPriceFeed(url string, store *HistoryStore) *PriceFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &PriceFeed{
		url:    url,
		store:  store,
		log:    logger.Component("price_feed"),
		subs:   make([]string, 0),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (f *PriceFeed) Start() {
	if f.started.CompareAndSwap(false, true) {
		go f.runLoop()
	}
}

// Stop closes the connection and waits for the loop to exit.
func (f *PriceFeed) Stop() {
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
	if f.started.Load() {
		<-f.done
	}
}

// Subscribe adds market ids, sending a subscribe frame right away when connected.
func (f *PriceFeed) Subscribe(marketIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := make([]string, 0, len(marketIDs))
	for _, id := range marketIDs {
		found := false
		for _, existing := range f.subs {
			if existing == id {
				found = true
				break
			}
		}
		if !found && id != "" {
			f.subs = append(f.subs, id)
			added = append(added, id)
		}
	}
	if len(added) > 0 && f.connected {
		return f.sendSubscribeLocked(added)
	}
	return nil
}

func (f *PriceFeed) runLoop() {
	defer close(f.done)
	retry := &backoff.Backoff{Min: ReconnBaseDelay, Max: ReconnMaxDelay, Factor: 2, Jitter: true}

	for {
		if f.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.url, nil)
		if err != nil {
			delay := retry.Duration()
			f.log.Error("price feed connection failed", "error", err, "retry_in", delay)
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()

		f.mu.Lock()
		if f.ctx.Err() != nil {
			f.mu.Unlock()
			conn.Close()
			return
		}
		f.conn = conn
		f.connected = true
		var subErr error
		if len(f.subs) > 0 {
			subErr = f.sendSubscribeLocked(f.subs)
		}
		f.mu.Unlock()

		if subErr != nil {
			f.log.Error("price feed resubscribe failed", "error", subErr)
		} else {
			go f.pinger(conn)
			f.readLoop(conn)
		}

		f.mu.Lock()
		f.connected = false
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}
}

// pinger keeps the connection alive; the read deadline catches dead peers.
func (f *PriceFeed) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != conn {
				f.mu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.PingMessage, []byte{})
			f.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *PriceFeed) readLoop(conn *websocket.Conn) {
	readTimeout := PingPeriod + 10*time.Second
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() == nil {
				f.log.Warn("price feed read error", "error", err)
			}
			return
		}
		f.HandleMessage(message)
	}
}

// HandleMessage applies a raw frame (an array or a single event) and returns how many
// prices were stored. Unknown frames are ignored.
func (f *PriceFeed) HandleMessage(raw []byte) int {
	var msgs []FeedMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		var single FeedMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return 0
		}
		msgs = []FeedMessage{single}
	}

	stored := 0
	for _, m := range msgs {
		if m.Market == "" || (m.EventType != "price_change" && m.EventType != "last_trade_price") {
			continue
		}
		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			continue
		}
		if err := f.store.Append(m.Market, price.InexactFloat64()); err != nil {
			f.log.Debug("price rejected", "market", m.Market, "error", err)
			continue
		}
		stored++
	}
	return stored
}

func (f *PriceFeed) sendSubscribeLocked(marketIDs []string) error {
	if f.conn == nil {
		return fmt.Errorf("no connection")
	}
	return f.conn.WriteJSON(map[string]any{
		"type":       "subscribe",
		"assets_ids": marketIDs,
		"channel":    "market",
	})
}
