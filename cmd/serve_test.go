package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/store"
)

func testCanon(t *testing.T) *canon.Canon {
	t.Helper()
	c, err := canon.New(
		[]canon.DatasetRule{
			{Name: "STRUCTURAL_CORE", MinFactsToMeasure: 1},
			{Name: "GOVERNANCE_SIGNAL", MinFactsToMeasure: 1},
			{Name: "EXCEPTION_SURFACE", MinFactsToMeasure: 1},
		},
		canon.Rules{
			MaxExceptionSurface:  3,
			RequiredMeasurements: []string{"STRUCTURAL_CORE_measured", "GOVERNANCE_SIGNAL_measured"},
		},
		nil,
	)
	require.NoError(t, err)
	return c
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	c := testCanon(t)
	h := buildRouter(c, nil, 2, 100)

	rr := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, c.Hash(), body["canon_hash"])
}

func TestRouter_Decide(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	body := "entity_id,STRUCTURAL_CORE_measured,GOVERNANCE_SIGNAL_measured,EXCEPTION_SURFACE_fact_count\n" +
		"E1,True,True,5\n" +
		"E2,False,False,0\n" +
		"E3,True,True,1\n"

	rr := do(t, h, http.MethodPost, "/v1/decide", body, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Stage    string           `json:"stage"`
		RowsIn   int              `json:"rows_in"`
		Rows     []model.Decision `json:"rows"`
		Excluded []model.RowError `json:"excluded"`
		Outcomes map[string]int   `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, model.StageModuleTwo, resp.Stage)
	assert.Equal(t, 3, resp.RowsIn)
	assert.Empty(t, resp.Excluded)
	assert.Equal(t, []model.Decision{
		{EntityID: "E1", Outcome: model.OutcomeBlock, Reason: model.ReasonExceptionSurfaceExceeded},
		{EntityID: "E2", Outcome: model.OutcomeHold, Reason: "STRUCTURAL_CORE_measured_UNMEASURED"},
		{EntityID: "E3", Outcome: model.OutcomeAuth, Reason: model.ReasonMeasurementsSufficient},
	}, resp.Rows)
	assert.Equal(t, map[string]int{"AUTH": 1, "BLOCK": 1, "HOLD": 1}, resp.Outcomes)
}

func TestRouter_DecideMissingColumns(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	rr := do(t, h, http.MethodPost, "/v1/decide", "entity_id\nE1\n", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "GOVERNANCE_SIGNAL_measured")
}

func TestRouter_EmptyBody(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	rr := do(t, h, http.MethodPost, "/v1/measure", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid CSV body")
}

func TestRouter_Measure(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	rr := do(t, h, http.MethodPost, "/v1/measure", "entity_id,dataset\nE1,structural_core\nE1,STRUCTURAL_CORE\nE2,OTHER\n",
		map[string]string{"Accept": "text/csv"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "entity_id,STRUCTURAL_CORE_measured,STRUCTURAL_CORE_fact_count,GOVERNANCE_SIGNAL_measured,"+
		"GOVERNANCE_SIGNAL_fact_count,EXCEPTION_SURFACE_measured,EXCEPTION_SURFACE_fact_count", lines[0])
	assert.Equal(t, "E1,True,2,False,0,False,0", lines[1])
	assert.Equal(t, "E2,False,0,False,0,False,0", lines[2])
}

func TestRouter_Coverage(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	body := "entity_id,dataset,source_tier,signal_strength,date_observed,valid\n" +
		"E1,STRUCTURAL,1,STRONG,2025-03-31,true\n" +
		"E1,STRUCTURAL,9,STRONG,2025-03-31,true\n"

	rr := do(t, h, http.MethodPost, "/v1/coverage", body, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "as_of")

	rr = do(t, h, http.MethodPost, "/v1/coverage?as_of=2025-06-30", body, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Rows     []model.CoverageResult `json:"rows"`
		Excluded []model.RowError       `json:"excluded"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, 0.4, resp.Rows[0].KnownPct)
	require.Len(t, resp.Excluded, 1)
	assert.Equal(t, 2, resp.Excluded[0].Row)
	assert.Equal(t, "source_tier", resp.Excluded[0].Field)
}

func TestRouter_Classify(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	rr := do(t, h, http.MethodPost, "/v1/classify", "entity_id,dataset,known_pct\nE1,STRUCTURAL,0.7\nE1,NOPE,0.7\n", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Rows []model.Classification `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, model.StateGreen, resp.Rows[0].State)
	assert.Equal(t, model.StateErrorUnknownDataset, resp.Rows[1].State)
}

func TestRouter_RunsWithoutStore(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	for _, target := range []string{"/v1/runs", "/v1/runs/abc", "/v1/stats"} {
		rr := do(t, h, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, target)
	}
}

func TestRouter_Runs(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	run, err := st.CreateRun(ctx, model.RunRequest{Command: "decide", CanonHash: "h", Input: "in.csv"})
	require.NoError(t, err)
	_, err = st.SaveDecisions(ctx, run.ID, []model.Decision{{EntityID: "E1", Outcome: model.OutcomeAuth, Reason: model.ReasonMeasurementsSufficient}})
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunResult(ctx, run.ID, &model.RunResult{Outcomes: map[string]int{"AUTH": 1}}))

	h := buildRouter(testCanon(t), st, 2, 100)

	rr := do(t, h, http.MethodGet, "/v1/runs?command=decide&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rr = do(t, h, http.MethodGet, "/v1/runs?command=classify", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = do(t, h, http.MethodGet, "/v1/runs?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/runs/"+run.ID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		ID        string           `json:"id"`
		Status    model.RunStatus  `json:"status"`
		Decisions []model.Decision `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, run.ID, detail.ID)
	assert.Equal(t, model.RunStatusComplete, detail.Status)
	assert.Len(t, detail.Decisions, 1)

	rr = do(t, h, http.MethodGet, "/v1/runs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/stats?hours=0", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap struct {
		RunsTotal int            `json:"runs_total"`
		Outcomes  map[string]int `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.Outcomes["AUTH"])
}

func TestRouter_RateLimit(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 1)

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, do(t, h, http.MethodGet, "/health", "", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := buildRouter(testCanon(t), nil, 2, 100)
	rr := do(t, h, http.MethodOptions, "/v1/decide", "", map[string]string{
		"Origin":                        "https://adjudication.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
