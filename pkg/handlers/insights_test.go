package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/services"
)

type fakeInsightService struct {
	result *services.InsightResult
	err    error
	got    services.Insight
}

func (f *fakeInsightService) SubmitInsight(ctx context.Context, userID uuid.UUID, insight services.Insight) (*services.InsightResult, error) {
	f.got = insight
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func insightMux(svc services.InsightService) *http.ServeMux {
	mux := http.NewServeMux()
	NewInsightHandler(svc, zap.NewNop()).RegisterRoutes(mux, RequireUser(zap.NewNop()))
	return mux
}

func TestSubmitInsight_Accepted(t *testing.T) {
	result := &services.InsightResult{
		CorrelationID: uuid.New(),
		RequestIDs:    []uuid.UUID{uuid.New(), uuid.New()},
	}
	svc := &fakeInsightService{result: result}
	mux := insightMux(svc)

	body, _ := json.Marshal(services.Insight{
		Agent:   "summarizer",
		Summary: "link meeting notes to project",
		Actions: []services.InsightAction{
			{AggregateType: "relation", Action: "create", Data: map[string]any{}},
		},
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/insights", body, uuid.New()))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp services.InsightResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, result.CorrelationID, resp.CorrelationID)
	assert.Len(t, resp.RequestIDs, 2)
	assert.Equal(t, "summarizer", svc.got.Agent)
}

func TestSubmitInsight_InvalidJSON(t *testing.T) {
	mux := insightMux(&fakeInsightService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/insights", []byte("nope"), uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitInsight_ValidationError(t *testing.T) {
	svc := &fakeInsightService{err: apperrors.ErrValidation}
	mux := insightMux(svc)

	body, _ := json.Marshal(services.Insight{Agent: "summarizer"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/insights", body, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
