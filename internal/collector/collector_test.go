package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorrunner/internal/cache"
	"monitorrunner/internal/models"
)

func TestCollectSearchInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		rng, ok := body["range"].(map[string]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, rng["gte"])
		assert.Equal(t, "m1", r.URL.Query().Get("routing"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_source":{"count":5}}]}}`))
	}))
	defer server.Close()

	c := New(server.URL, cache.New(time.Minute, time.Minute), nil, nil)

	monitor := &models.Monitor{
		ID:   "m1",
		Name: "cpu-high",
		Inputs: []models.Input{
			{
				Kind: models.InputKindSearch,
				Search: models.SearchInput{
					QueryTemplate: `{"range":{"gte":"{{.period_start}}","lte":"{{.period_end}}"}}`,
					Indices:       []string{"metrics-*"},
				},
			},
		},
	}

	results := c.Collect(context.Background(), monitor, time.Now().Add(-time.Hour), time.Now(), nil)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Error)
	require.Len(t, results[0].Results, 1)
	assert.Equal(t, float64(5), results[0].Results[0]["count"])
}

func TestCollectUnsupportedInput(t *testing.T) {
	c := New("http://unused", cache.New(time.Minute, time.Minute), nil, nil)
	monitor := &models.Monitor{
		ID:     "m2",
		Inputs: []models.Input{{Kind: models.InputKindUnsupported}},
	}

	results := c.Collect(context.Background(), monitor, time.Now(), time.Now(), nil)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Error)
}

func TestInjectBackendRolesFilter(t *testing.T) {
	body := []byte(`{"query":{"bool":{"must":[{"match_all":{}}]}}}`)
	rewritten, err := injectBackendRolesFilter(body, []string{"admin"})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rewritten, &decoded))
	q := decoded["query"].(map[string]interface{})
	b := q["bool"].(map[string]interface{})
	assert.NotEmpty(t, b["filter"])
}

func TestRolesForMonitor(t *testing.T) {
	legacy := []string{"admin"}
	assert.Equal(t, legacy, RolesForMonitor(&models.Monitor{}, legacy))

	owned := &models.Monitor{Owner: &models.MonitorUser{BackendRoles: []string{"ops"}}}
	assert.Equal(t, []string{"ops"}, RolesForMonitor(owned, legacy))
}
