package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorStaticGauges(t *testing.T) {
	c := NewCollector(4, 1500*time.Millisecond)
	assert.Equal(t, 4.0, testutil.ToFloat64(c.SpeedMultiplier))
	assert.Equal(t, 1.5, testutil.ToFloat64(c.TickInterval))
}

func TestPublisherHooks(t *testing.T) {
	c := NewCollector(1, time.Second)
	h := c.PublisherMetrics()

	h.NATSPublishedInc("position")
	h.NATSPublishedInc("position")
	h.NATSPublishedInc("feed")
	h.NATSPublishErrInc()
	h.NATSSetConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.NATSPublished.WithLabelValues("position")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished.WithLabelValues("feed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublishErrs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))

	h.NATSSetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NATSConnected))

	h.PublishObserve(2 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(c.PublishDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(1, time.Second)
	c.Ticks.Add(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tracker_ticks_total 3")
	assert.Contains(t, string(body), "tracker_speed_multiplier 1")
}
