package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/etl-connectors/internal/connector"
)

type memStore struct {
	inserted []any
	upserted map[string]any
}

func newMemStore() *memStore {
	return &memStore{upserted: map[string]any{}}
}

func (m *memStore) Insert(_ context.Context, document any) error {
	m.inserted = append(m.inserted, document)
	return nil
}

func (m *memStore) Upsert(_ context.Context, _ string, keyValue string, document any) (bool, error) {
	_, exists := m.upserted[keyValue]
	m.upserted[keyValue] = document
	return !exists, nil
}

func (m *memStore) writes() int { return len(m.inserted) + len(m.upserted) }

func TestWeatherPipelinePersistsOneReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(sampleWeatherPayload))
	}))
	defer srv.Close()

	st := newMemStore()
	runner := connector.NewRunner(newWeatherSource(srv.URL), st)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	require.Len(t, st.inserted, 1)
	report := st.inserted[0].(*WeatherReport)
	assert.Equal(t, "Chennai", report.City)
	assert.Equal(t, "IN", report.Country)
	assert.InDelta(t, 28.05, report.Temperature, 0.001)
	assert.Equal(t, float64(70), report.Humidity)
	assert.Equal(t, "haze", report.Conditions)
	assert.Equal(t, 3.1, report.WindSpeed)
	assert.Equal(t, time.Unix(1690000000, 0).UTC(), report.Timestamp)
	assert.WithinDuration(t, time.Now(), report.IngestedAt, 5*time.Second, "ingestion time is the run time")
}

func TestWeatherPipelineRecoversFromSingleRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleWeatherPayload))
	}))
	defer srv.Close()

	st := newMemStore()
	res, err := connector.NewRunner(newWeatherSource(srv.URL), st).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWeatherPipelineRateLimitBeyondBudgetWritesNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	st := newMemStore()
	_, err := connector.NewRunner(newWeatherSource(srv.URL), st).Run(context.Background())

	var stageErr *connector.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, connector.StageFetch, stageErr.Stage)

	var rlErr *connector.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.EqualValues(t, 3, calls.Load(), "budget of 2 retries allows 3 attempts")
	assert.Zero(t, st.writes())
}

func TestWeatherPipelineMalformedPayloadWritesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"name": "Chennai", "sys": {"country": "IN"}}`))
	}))
	defer srv.Close()

	st := newMemStore()
	_, err := connector.NewRunner(newWeatherSource(srv.URL), st).Run(context.Background())

	var stageErr *connector.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, connector.StageTransform, stageErr.Stage)
	assert.Zero(t, st.writes())
}

func TestPulsesPipelineRerunKeepsOneDocumentPerPulse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results": [` + samplePulse + `]}`))
	}))
	defer srv.Close()

	st := newMemStore()
	runner := connector.NewRunner(newPulseSource(srv.URL, 50, 100), st)

	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 0, first.Updated)

	second, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Updated)

	assert.Len(t, st.upserted, 1, "rerunning must leave exactly one document per pulse id")
	rec := st.upserted["p1"].(*PulseRecord)
	assert.Equal(t, "p1", rec.PulseID)
}

func TestPulsesPipelineMalformedPageWritesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results": [` + samplePulse + `, {"name": "no id"}]}`))
	}))
	defer srv.Close()

	st := newMemStore()
	_, err := connector.NewRunner(newPulseSource(srv.URL, 50, 100), st).Run(context.Background())

	var stageErr *connector.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, connector.StageTransform, stageErr.Stage)
	assert.Zero(t, st.writes(), "one bad pulse aborts the run before any write")
}
