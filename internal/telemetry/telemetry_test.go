package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestHandlerExposesOtelInstruments(t *testing.T) {
	tel, err := Init()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	counter, err := otel.Meter("test").Int64Counter("hsl.test.deliveries")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hsl_test_deliveries")
}
