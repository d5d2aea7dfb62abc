package remote

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/matchbridge/internal/model"
	"github.com/rickgao/matchbridge/internal/protocol"
)

func testBasis() model.MarketBasis {
	return model.MarketBasis{
		Commodity:    "electricity",
		Currency:     "EUR",
		MinimumPrice: decimal.Zero,
		MaximumPrice: decimal.NewFromInt(1),
		PriceSteps:   11,
		Significance: 2,
	}
}

func testUpdate(t *testing.T, seq int64, demand []float64) model.BidUpdate {
	t.Helper()
	bid, err := model.NewBid(testBasis(), demand)
	require.NoError(t, err)
	return model.BidUpdate{Bid: model.NewAggregatedBid(bid, nil), Seq: seq}
}

func startServer(t *testing.T, price PriceFunc) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(Config{ClusterID: "cluster-1", MarketBasis: testBasis()}, price, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/agentendpoint?agentId=" + agentID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func TestServer_RequiresAgentID(t *testing.T) {
	srv, ts := startServer(t, nil)

	resp, err := http.Get(ts.URL + "/agentendpoint")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int64(1), srv.Stats().Rejected)
}

func TestServer_AnnouncesClusterOnConnect(t *testing.T) {
	srv, ts := startServer(t, nil)
	conn := dial(t, ts, "bridge-1")

	env := readEnvelope(t, conn)
	require.Equal(t, protocol.PayloadClusterInfo, env.Type)
	assert.Equal(t, "cluster-1", env.ClusterInfo.ClusterID)
	assert.True(t, env.ClusterInfo.MarketBasis.Equal(testBasis()))

	assert.Eventually(t, func() bool {
		agents := srv.Agents()
		return len(agents) == 1 && agents[0] == "bridge-1"
	}, time.Second, 10*time.Millisecond)
}

func TestServer_PricesBidUpdates(t *testing.T) {
	srv, ts := startServer(t, Fixed(decimal.RequireFromString("0.42")))
	conn := dial(t, ts, "bridge-1")
	readEnvelope(t, conn) // cluster info

	data, err := protocol.EncodeBidUpdate(testUpdate(t, 7, []float64{5, 4, 3, 2, 1, 0, -1, -2, -3, -4, -5}))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	env := readEnvelope(t, conn)
	require.Equal(t, protocol.PayloadPriceUpdate, env.Type)
	assert.Equal(t, int64(7), env.PriceUpdate.Seq)
	assert.True(t, env.PriceUpdate.Price.Equal(decimal.RequireFromString("0.42")))

	stats := srv.Stats()
	assert.Equal(t, int64(1), stats.BidUpdates)
	assert.Equal(t, int64(1), stats.Prices)
}

func TestServer_SkipsUnpricedBids(t *testing.T) {
	srv, ts := startServer(t, func(model.BidUpdate) (decimal.Decimal, bool) {
		return decimal.Zero, false
	})
	conn := dial(t, ts, "bridge-1")
	readEnvelope(t, conn)

	data, err := protocol.EncodeBidUpdate(testUpdate(t, 1, make([]float64, 11)))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	assert.Eventually(t, func() bool {
		return srv.Stats().BidUpdates == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), srv.Stats().Prices)
}

func TestServer_AnnounceBroadcasts(t *testing.T) {
	srv, ts := startServer(t, nil)
	a := dial(t, ts, "bridge-a")
	b := dial(t, ts, "bridge-b")
	readEnvelope(t, a)
	readEnvelope(t, b)

	require.Eventually(t, func() bool { return len(srv.Agents()) == 2 }, time.Second, 10*time.Millisecond)

	updated := testBasis()
	updated.MaximumPrice = decimal.NewFromInt(2)
	srv.Announce(model.ClusterInfo{ClusterID: "cluster-2", MarketBasis: updated})

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		require.Equal(t, protocol.PayloadClusterInfo, env.Type)
		assert.Equal(t, "cluster-2", env.ClusterInfo.ClusterID)
		assert.True(t, env.ClusterInfo.MarketBasis.MaximumPrice.Equal(decimal.NewFromInt(2)))
	}
}

func TestServer_CloseAll(t *testing.T) {
	srv, ts := startServer(t, nil)
	conn := dial(t, ts, "bridge-1")
	readEnvelope(t, conn)

	srv.CloseAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Eventually(t, func() bool { return srv.Stats().Sessions == 0 }, time.Second, 10*time.Millisecond)
}

func TestEquilibrium(t *testing.T) {
	tests := []struct {
		name   string
		demand []float64
		want   string
	}{
		{name: "crosses mid axis", demand: []float64{5, 4, 3, 2, 1, 0, -1, -2, -3, -4, -5}, want: "0.5"},
		{name: "never positive", demand: []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, want: "0"},
		{name: "always positive", demand: []float64{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 1}, want: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Equilibrium(testUpdate(t, 1, tt.demand))
			require.True(t, ok)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}
