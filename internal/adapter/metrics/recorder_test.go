package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()

	r.OperationStarted(domain.OperationTransition)
	r.OperationQueued(domain.OperationTransition)
	r.RetryAttempted(domain.OperationTransition)
	r.RetryAttempted(domain.OperationTransition)
	r.OperationSettled(domain.OperationTransition, "rolled_back")
	r.Reconciled("applied")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.started.WithLabelValues("transition-status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.queued.WithLabelValues("transition-status")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("transition-status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.settled.WithLabelValues("transition-status", "rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconciled.WithLabelValues("applied")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.Reconciled("purged")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `shelf_reconciliations_total{outcome="purged"} 1`)
}

func TestRecorder_IndependentRegistries(t *testing.T) {
	// Two recorders must not collide on registration.
	a := NewRecorder()
	b := NewRecorder()
	a.Reconciled("noop")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.reconciled.WithLabelValues("noop")))
}
