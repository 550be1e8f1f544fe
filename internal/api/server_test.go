package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/entity"
	"cove-indexer/internal/metrics"
	"cove-indexer/internal/storage"
)

func seededBackend(t *testing.T) storage.Backend {
	t.Helper()
	mem := storage.NewMemory()
	s := storage.NewSession(mem)
	s.Upsert(&entity.Token{ID: "0xabc", Symbol: "USDC", Decimals: 6, Type: entity.ShortTail, TxCount: 2})
	for _, from := range []int64{0, 3600, 7200} {
		s.Upsert(&entity.HourlyPoolStatus{PoolStatus: entity.PoolStatus{
			ID:        "pool-" + decimal.NewFromInt(from).String(),
			Pool:      "pool",
			From:      from,
			To:        from + 3599,
			TxCount:   1,
			VolumeUSD: decimal.NewFromInt(100),
			AvgTrade:  decimal.NewFromInt(100),
		}})
	}
	_, err := s.Commit(context.Background())
	require.NoError(t, err)
	return mem
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv := New(Options{}, storage.NewMemory(), nil, zerolog.Nop())
	rec := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestEntityLookup(t *testing.T) {
	srv := New(Options{}, seededBackend(t), nil, zerolog.Nop())

	rec := get(t, srv, "/entities/token/0xabc")
	require.Equal(t, http.StatusOK, rec.Code)
	var tok entity.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, "USDC", tok.Symbol)
	assert.EqualValues(t, 2, tok.TxCount)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/entities/Token/0xdef").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/entities/Widget/1").Code)
}

func TestPoolStatusListing(t *testing.T) {
	srv := New(Options{}, seededBackend(t), nil, zerolog.Nop())

	var body struct {
		Count int                 `json:"count"`
		Items []entity.PoolStatus `json:"items"`
	}

	rec := get(t, srv, "/pool/hour?from=3600")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.EqualValues(t, 3600, body.Items[0].From)
	assert.EqualValues(t, 7200, body.Items[1].From)

	rec = get(t, srv, "/pool/hour?order=desc&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.EqualValues(t, 7200, body.Items[0].From)

	rec = get(t, srv, "/pool/day")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/pool/week").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/pool/hour?from=x").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/pool/hour?from=10&to=5").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/pool/hour?limit=0").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.EventSkipped()
	srv := New(Options{}, storage.NewMemory(), m, zerolog.Nop())

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "coveindexer_events_skipped_total 1"))
}
