package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAdmittedIncrementsCounter(t *testing.T) {
	r := New()
	r.RecordAdmitted()
	r.RecordAdmitted()

	body := scrape(t, r)
	require.Contains(t, body, "llmshield_requests_admitted_total 2")
}

func TestRecordBlockedLabelsByReason(t *testing.T) {
	r := New()
	r.RecordBlocked("GUARD_RATE_LIMIT")
	r.RecordBlocked("GUARD_RATE_LIMIT")
	r.RecordBlocked("BREAKER_SESSION_LIMIT")

	body := scrape(t, r)
	require.Contains(t, body, `llmshield_requests_blocked_total{reason="GUARD_RATE_LIMIT"} 2`)
	require.Contains(t, body, `llmshield_requests_blocked_total{reason="BREAKER_SESSION_LIMIT"} 1`)
}

func TestSetCacheSizeReflectsLatestValue(t *testing.T) {
	r := New()
	r.SetCacheSize(10)
	r.SetCacheSize(3)

	body := scrape(t, r)
	require.Contains(t, body, "llmshield_cache_entries 3")
}

func TestRecordSettledSkipsZeroSavings(t *testing.T) {
	r := New()
	r.RecordSettled("gpt-4o-mini", 0.002, map[string]float64{
		"context": 0.0005,
		"router":  0,
		"prefix":  0,
		"cache":   0,
	}, 0.25)

	body := scrape(t, r)
	require.Contains(t, body, `llmshield_settled_cost_usd_total{model="gpt-4o-mini"} 0.002`)
	require.Contains(t, body, `llmshield_settled_savings_usd_total{source="context"} 0.0005`)
	require.NotContains(t, body, `source="router"`)
}

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}
