package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/simpleexpr/internal/notify"
	"github.com/liamcoop/simpleexpr/multiassetengine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine, err := multiassetengine.NewEngineWithConfig(multiassetengine.DefaultConfig())
	require.NoError(t, err)
	return NewServer(notify.NewDispatcher(engine, nil))
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.Triggers)
	assert.Equal(t, "cleared", resp.State)
}

func TestListTriggersGolden(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/triggers", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "default_triggers", rec.Body.Bytes())
}

func TestEvaluateTransitions(t *testing.T) {
	s := newTestServer(t)

	cycles := []struct {
		body             string
		wantTriggered    bool
		wantTransitioned bool
	}{
		{`{"modbus": {"humidity": 72, "temperature": 21.5}}`, true, true},
		{`{"modbus": {"humidity": 73}}`, true, false},
		{`{"modbus": {"humidity": 40}}`, false, true},
		{`{"other": {"humidity": 90}}`, false, false},
	}

	for i, c := range cycles {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/evaluate", c.body)
		require.Equal(t, http.StatusOK, rec.Code, "cycle %d", i)

		var resp EvaluateResponse
		decode(t, rec, &resp)
		assert.Equal(t, c.wantTriggered, resp.Triggered, "cycle %d", i)
		assert.Equal(t, c.wantTransitioned, resp.Transitioned, "cycle %d", i)
		require.Len(t, resp.Assets, 1)
		assert.Equal(t, "modbus", resp.Assets[0].Asset)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/reason", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reason map[string]any
	decode(t, rec, &reason)
	assert.Equal(t, "cleared", reason["reason"])
	assert.Equal(t, "modbus", reason["asset"])
	assert.NotEmpty(t, reason["timestamp"])
}

func TestEvaluateAbsentAssetReportsError(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/evaluate", `{}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp EvaluateResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Triggered)
	require.Len(t, resp.Assets, 1)
	assert.Contains(t, resp.Assets[0].Error, "not present")
}

func TestEvaluateMalformedPayload(t *testing.T) {
	s := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/v1/evaluate", `{"modbus": {"humidity": 99}}`)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/evaluate", `{"modbus": `)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "invalid evaluation payload", resp.Error)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/health", "")
	var health HealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "triggered", health.State)
}

func TestReconfigure(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/reconfigure", `{
		"triggers": [
			{"asset": "pump", "expression": "pressure > 2", "datapoints": [{"name": "pressure", "type": "float"}]},
			{"asset": "tank", "expression": "level < 10", "datapoints": [{"name": "level", "type": "float"}]}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var list multiassetengine.TriggerList
	decode(t, rec, &list)
	require.Len(t, list.Triggers, 2)
	assert.Equal(t, "pump", list.Triggers[0].Asset)
	assert.Equal(t, "tank", list.Triggers[1].Asset)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/evaluate", `{"pump": {"pressure": 3}}`)
	var resp EvaluateResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Triggered)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/evaluate", `{"pump": {"pressure": 3}, "tank": {"level": 4}}`)
	decode(t, rec, &resp)
	assert.True(t, resp.Triggered)
}

func TestConfigureRejectedKeepsTriggers(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/configure",
		`{"asset": "boiler", "expression": "steam > 100", "datapoints": [{"name": "water", "type": "float"}]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "configuration rejected", resp.Error)
	assert.Contains(t, resp.Details, "boiler")

	rec = doRequest(t, s, http.MethodGet, "/api/v1/triggers", "")
	assert.JSONEq(t, `{"triggers":[{"asset":"modbus"}]}`, rec.Body.String())
}

func TestConfigureUndeclaredSymbolRejected(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/configure", `{"asset": "modbus", "expression": "humidty > 50"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "configuration rejected", resp.Error)
	assert.Contains(t, resp.Details, "datapoint")
}

func TestRequestBodyErrors(t *testing.T) {
	oversized := `{"modbus": {"humidity": 1, "pad": "` + strings.Repeat("x", maxBodyBytes) + `"}}`

	testCases := []struct {
		name       string
		method     string
		path       string
		body       io.Reader
		wantStatus int
		wantError  string
	}{
		{"evaluate oversized", http.MethodPost, "/api/v1/evaluate", strings.NewReader(oversized), http.StatusRequestEntityTooLarge, "request body too large"},
		{"configure oversized", http.MethodPost, "/api/v1/configure", strings.NewReader(oversized), http.StatusRequestEntityTooLarge, "request body too large"},
		{"evaluate read failure", http.MethodPost, "/api/v1/evaluate", iotest.ErrReader(errors.New("connection reset")), http.StatusBadRequest, "failed to read request body"},
		{"reconfigure read failure", http.MethodPut, "/api/v1/reconfigure", iotest.ErrReader(errors.New("connection reset")), http.StatusBadRequest, "failed to read request body"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			req := httptest.NewRequest(tc.method, tc.path, tc.body)
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			var resp ErrorResponse
			decode(t, rec, &resp)
			assert.Equal(t, tc.wantError, resp.Error)
		})
	}
}

func TestInfo(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/info", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var info multiassetengine.Info
	decode(t, rec, &info)
	assert.Equal(t, multiassetengine.RuleName, info.Name)
	assert.Equal(t, multiassetengine.Version, info.Version)
	require.NotNil(t, info.DefaultConfig)
	assert.Equal(t, "modbus", info.DefaultConfig.Asset)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/api/v1/evaluate", `{"modbus": {"humidity": 10}}`)

	rec := doRequest(t, s, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "simpleexpr_evaluation_cycles_total")
	assert.Contains(t, rec.Body.String(), "simpleexpr_registered_triggers")
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.yaml")
	require.NoError(t, os.WriteFile(path, []byte("triggers:\n  - asset: pump\n    expression: pressure > 2\n    datapoints:\n      - {name: pressure, type: float}\n"), 0o600))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, `{"triggers":[{"asset":"pump"}]}`+"\n", out.String())
}

func TestCheckCommandRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"asset": "pump", "expression": "pressure >"}`), 0o600))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"check", path})

	assert.Error(t, cmd.Execute())
}

func TestEvalCommand(t *testing.T) {
	input := strings.Join([]string{
		`{"modbus": {"humidity": 80}}`,
		``,
		`not json`,
		`{"modbus": {"humidity": 20}}`,
	}, "\n")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"eval"})

	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var first, second, third evalLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	assert.True(t, first.Triggered)
	assert.Contains(t, string(first.Reason), `"reason":"triggered"`)
	assert.False(t, second.Triggered)
	assert.NotEmpty(t, second.Error)
	assert.False(t, third.Triggered)
	assert.Contains(t, string(third.Reason), `"reason":"cleared"`)
}
