package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransitionOutcomes(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("assign", "error"))
	RecordTransition("assign", errors.New("boom"))
	RecordTransition("assign", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("assign", "error")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordAuditFailure()
	RecordPromotions(2)

	resp := httptest.NewRecorder()
	Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.True(t, strings.Contains(body, "shop_queue_audit_write_failures_total"))
	assert.True(t, strings.Contains(body, "shop_queue_tickets_appointments_promoted_total"))
}
