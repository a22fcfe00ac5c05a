package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("tweet_ingest", reg)

	m.IncRecords()
	m.IncRecords()
	m.IncErrors(ErrorTransform, 1)
	m.IncErrors(ErrorCommit, 250)
	m.AddPostsWritten(248)
	m.AddAccountsWritten(100)
	m.ObserveCommit(120 * time.Millisecond)
	m.IncThrottlePauses()
	m.IncFiles(FileSkipped)
	m.SetResources(55.5, 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Records))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(ErrorTransform)))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.Errors.WithLabelValues(ErrorCommit)))
	assert.Equal(t, 248.0, testutil.ToFloat64(m.PostsWritten))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.AccountsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Batches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThrottlePauses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Files.WithLabelValues(FileSkipped)))
	assert.Equal(t, 55.5, testutil.ToFloat64(m.MemoryPercent))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CPUPercent))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("tweet_ingest", reg)
	m.IncFiles(FileProcessed)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tweet_ingest_files_total{outcome="processed"} 1`)
}
