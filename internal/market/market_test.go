package market

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStoreRing(t *testing.T) {
	h := NewHistoryStore(3)
	require.NoError(t, h.Append("m1", 0.1, 0.2))
	assert.Equal(t, []float64{0.1, 0.2}, h.Series("m1"))

	require.NoError(t, h.Append("m1", 0.3, 0.4, 0.5))
	assert.Equal(t, []float64{0.3, 0.4, 0.5}, h.Series("m1"))

	require.NoError(t, h.Append("m1", 0.6))
	assert.Equal(t, []float64{0.4, 0.5, 0.6}, h.Series("m1"))

	assert.Nil(t, h.Series("missing"))
	_, ok := h.LastUpdated("m1")
	assert.True(t, ok)
}

func TestHistoryStoreRejectsBadPrices(t *testing.T) {
	h := NewHistoryStore(10)
	assert.Error(t, h.Append("", 0.5))
	assert.Error(t, h.Append("m1", 0.5, 1.5))
	assert.Nil(t, h.Series("m1"), "a rejected batch stores nothing")
}

func TestHistoryStoreSnapshotIsCopy(t *testing.T) {
	h := NewHistoryStore(0)
	require.NoError(t, h.Append("b", 0.5))
	require.NoError(t, h.Append("a", 0.4))

	snap := h.Snapshot()
	snap["a"][0] = 0.9
	assert.Equal(t, []float64{0.4}, h.Series("a"))
	assert.Equal(t, []string{"a", "b"}, h.Markets())
}

func TestCategorize(t *testing.T) {
	tests := map[string]string{
		"Bitcoin above $100k on Feb 28?":    CategoryCrypto,
		"Will Trump win the 2028 election?": CategoryPolitics,
		"Fed rate cut in March 2026?":       CategoryEconomics,
		"GPT-5 released before March 2026?": CategoryTech,
		"Nasdaq closes higher on Friday?":   CategoryStocks,
		"Super Bowl LX total over 49.5?":    CategorySports,
		"Will it rain tomorrow?":            CategoryOther,
	}
	for title, want := range tests {
		assert.Equal(t, want, Categorize(title), title)
	}
}

func TestPriceFeedHandleMessage(t *testing.T) {
	h := NewHistoryStore(10)
	f := NewPriceFeed("ws://unused", h)

	n := f.HandleMessage([]byte(`[{"event_type":"price_change","market":"m1","price":"0.53"},{"event_type":"book","market":"m1"}]`))
	assert.Equal(t, 1, n)
	n = f.HandleMessage([]byte(`{"event_type":"last_trade_price","market":"m1","price":"0.55"}`))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.HandleMessage([]byte(`not json`)))
	assert.Equal(t, 0, f.HandleMessage([]byte(`{"event_type":"price_change","market":"m1","price":"7"}`)))

	assert.Equal(t, []float64{0.53, 0.55}, h.Series("m1"))
}

func TestPriceFeedSubscribesAndStores(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"price_change","market":"m1","price":"0.61"}]`))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	h := NewHistoryStore(10)
	f := NewPriceFeed("ws"+strings.TrimPrefix(srv.URL, "http"), h)
	require.NoError(t, f.Subscribe([]string{"m1"}))
	f.Start()
	defer f.Stop()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub["type"])
		assert.Equal(t, []any{"m1"}, sub["assets_ids"])
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe frame received")
	}

	assert.Eventually(t, func() bool {
		return len(h.Series("m1")) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
