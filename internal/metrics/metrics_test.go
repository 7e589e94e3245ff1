package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	errs "github.com/frankli0324/go-networking/internal/errors"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Observe("core", nil, time.Millisecond)
	c.Observe("core", errs.NewProxyError(errors.New("refused")), time.Millisecond)
	c.Observe("core", errs.NewProxyError(errors.New("refused")), time.Millisecond)
	c.Selected("std")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("core", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("core", "proxy_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.selections.WithLabelValues("std")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		c.Observe("core", nil, 0)
		c.Selected("core")
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "certificate_verify_error", Outcome(errs.NewCertificateVerifyError(nil)))
	assert.Equal(t, "unknown", Outcome(errors.New("x")))
}
