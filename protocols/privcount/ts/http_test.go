package ts_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privcount/privcount/pkg/outcomes"
	"github.com/privcount/privcount/pkg/persist"
	"github.com/privcount/privcount/protocols/privcount/ts"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandleLatestOutcomeNotFoundBeforeAnyPublish(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.NewFileStore(dir)
	require.NoError(t, err)

	srv := ts.NewServer(store, ts.NewFSM(1, 1), ts.NewHealthTracker(5*time.Second))

	req := httptest.NewRequest("GET", "/outcomes/latest", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestHandleLatestOutcomeReturnsPublished(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.NewFileStore(dir)
	require.NoError(t, err)

	want := outcomes.Outcomes{
		Context: outcomes.Context{RoundID: "r1", Valid: true},
		Tally: map[string]outcomes.CounterOutcome{
			"ZeroCount": {Sigma: 0, Bins: []outcomes.Bin{{Lo: 0, Hi: 1, Value: 0}}},
		},
	}
	require.NoError(t, store.SaveOutcome(context.Background(), want))

	srv := ts.NewServer(store, ts.NewFSM(1, 1), ts.NewHealthTracker(5*time.Second))

	req := httptest.NewRequest("GET", "/outcomes/latest", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var got outcomes.Outcomes
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.Context.RoundID)
}
