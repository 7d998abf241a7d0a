package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoPolymarket/polysignal/internal/governance"
	"github.com/GoPolymarket/polysignal/internal/market"
	"github.com/GoPolymarket/polysignal/internal/middleware"
	"github.com/GoPolymarket/polysignal/internal/model"
	"github.com/GoPolymarket/polysignal/internal/service"
	"github.com/GoPolymarket/polysignal/internal/signal"
	"github.com/GoPolymarket/polysignal/internal/stabilizer"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "admin-secret"

type testServer struct {
	router   *gin.Engine
	pipeline *service.Pipeline
	audit    *service.AuditService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auditSvc, err := service.NewAuditService("", nil)
	require.NoError(t, err)
	t.Cleanup(auditSvc.Close)

	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	engine := governance.New(governance.DefaultConfig(),
		governance.WithClock(func() time.Time { return noon }),
		governance.WithAuditSink(auditSvc))
	history := market.NewHistoryStore(50)
	p := service.NewPipeline(service.DefaultPipelineConfig(),
		signal.NewAggregator(signal.DefaultConfig()),
		stabilizer.New(stabilizer.DefaultConfig()),
		engine,
		service.WithPriceSource(history))

	return &testServer{
		router: NewRouter(RouterDeps{
			Pipeline:       p,
			Audit:          auditSvc,
			History:        history,
			AdminKey:       adminKey,
			MetricsEnabled: true,
		}),
		pipeline: p,
		audit:    auditSvc,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func scoreRequest() model.ScoreRequest {
	positions := map[string][]model.Position{}
	profiles := make([]model.ParticipantProfile, 0, 4)
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		positions[id] = []model.Position{{
			ParticipantID: id, MarketID: "m1", MarketTitle: "Bitcoin above $100k on Friday?", Outcome: "Yes",
			Quantity: 1000, AvgEntryPrice: 0.50, CurrentPrice: 0.55, CurrentValue: 550, UnrealizedPnL: 50,
		}}
		profiles = append(profiles, model.ParticipantProfile{ParticipantID: id, Efficiency: 0.10, Score: 1})
	}
	return model.ScoreRequest{Positions: positions, Profiles: profiles}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kill_switch_active":false`)
}

func TestScoreAndCachedSignals(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/signals", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/signals", scoreRequest(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var scored struct {
		Signals []model.RiskScoredSignal `json:"signals"`
		Count   int                      `json:"count"`
	}
	decode(t, w, &scored)
	require.Equal(t, 1, scored.Count)
	assert.Equal(t, "m1", scored.Signals[0].MarketID)
	assert.Equal(t, market.CategoryCrypto, scored.Signals[0].Category)

	w = s.do(t, http.MethodGet, "/v1/signals", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/v1/signals", map[string]any{"profiles": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateReturnsResultForBlockedSignal(t *testing.T) {
	s := newTestServer(t)
	sig := model.RiskScoredSignal{
		CandidateSignal: model.CandidateSignal{
			SignalID: "s1", MarketID: "m1", Outcome: "Yes", Conviction: 0.5, CurrentPrice: 0.5, AvgEntryPrice: 0.5,
		},
		RecommendedSize: 0.02,
		EntryQuality:    model.EntryVeryLate,
		ARSScore:        0.6,
	}
	w := s.do(t, http.MethodPost, "/v1/governance/evaluate", sig, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.GovernanceResult
	decode(t, w, &res)
	assert.Equal(t, model.DecisionBlocked, res.Decision)
	assert.Len(t, res.Rules, governance.RuleCount)
	assert.Nil(t, res.OrderRequest)
}

func TestRunThenRecordExecution(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{middleware.HeaderAdminKey: adminKey}

	w := s.do(t, http.MethodPost, "/v1/pipeline/run", scoreRequest(), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/v1/pipeline/run", scoreRequest(), auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary service.RunSummary
	decode(t, w, &summary)
	require.Equal(t, 1, summary.Approved)
	id := summary.Outcomes[0].Result.EvaluationID

	exec := model.ExecutionInput{EvaluationID: id, ActualCostCents: 1980}
	w = s.do(t, http.MethodPost, "/v1/governance/executions", exec, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"current_balance":480.2`)

	w = s.do(t, http.MethodPost, "/v1/governance/executions", exec, auth)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/v1/governance/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats governance.Stats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.SignalsProcessed)
	assert.Equal(t, 1, stats.Wallet.TotalTransactions)
}

func TestKillSwitchEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/kill-switch", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/kill-switch", model.KillSwitchInput{Reason: "venue outage"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/v1/governance/state", nil, nil)
	assert.Contains(t, w.Body.String(), `"kill_switch_active":true`)

	w = s.do(t, http.MethodDelete, "/v1/kill-switch", nil, map[string]string{middleware.HeaderAdminKey: adminKey})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/kill-switch", nil, map[string]string{
		middleware.HeaderAdminKey: adminKey,
		middleware.HeaderOperator: "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var entry model.AuditEntry
	decode(t, w, &entry)
	assert.Equal(t, model.EventKillSwitchReset, entry.Event)
	assert.Equal(t, "alice", entry.AuthorizedBy)

	w = s.do(t, http.MethodGet, "/v1/audit?event="+model.EventKillSwitchActivated, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Entries []model.AuditEntry `json:"entries"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Entries, 1)
	assert.Equal(t, "venue outage", listed.Entries[0].Reason)

	w = s.do(t, http.MethodGet, "/v1/audit?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/v1/audit?from=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarketPrices(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/markets/m9/prices", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/markets/m9/prices", model.PricePointsInput{Prices: []float64{0.4, 0.42}}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/v1/markets/m9/prices", model.PricePointsInput{Prices: []float64{1.4}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/markets/m9/prices", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Prices []float64 `json:"prices"`
	}
	decode(t, w, &got)
	assert.Equal(t, []float64{0.4, 0.42}, got.Prices)
}

func TestAuditStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	// the server subscribes right after the upgrade, so keep emitting until the first entry lands
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_, _ = s.pipeline.Engine().ActivateKillSwitch("stream check")
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var entry model.AuditEntry
	require.NoError(t, conn.ReadJSON(&entry))
	assert.Equal(t, model.EventKillSwitchActivated, entry.Event)
	assert.Equal(t, "stream check", entry.Reason)
}
