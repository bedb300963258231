package catalog

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newCapturingZendeskClient(captured **http.Request, body string) *zendeskClient {
	transport := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		*captured = req
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	})

	return &zendeskClient{
		client:    &http.Client{Transport: transport},
		subdomain: "acme",
		token:     "token",
		logger:    ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}),
	}
}

func TestIncrementalTicketsStartTime(t *testing.T) {
	t.Run("unset cursor starts the export at epoch", func(t *testing.T) {
		var captured *http.Request
		client := newCapturingZendeskClient(&captured, `{"tickets":[],"end_of_stream":true}`)

		_, err := client.IncrementalTickets(context.Background(), time.Time{}, "")
		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, "0", captured.URL.Query().Get("start_time"))
	})

	t.Run("cursor timestamps pass through as unix seconds", func(t *testing.T) {
		var captured *http.Request
		client := newCapturingZendeskClient(&captured, `{"tickets":[],"end_of_stream":true}`)

		cursor := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		_, err := client.IncrementalTickets(context.Background(), cursor, "")
		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, strconv.FormatInt(cursor.Unix(), 10), captured.URL.Query().Get("start_time"))
	})

	t.Run("next link overrides the constructed URL", func(t *testing.T) {
		var captured *http.Request
		client := newCapturingZendeskClient(&captured, `{"tickets":[],"end_of_stream":true}`)

		nextLink := "https://acme.zendesk.com/api/v2/incremental/tickets/cursor.json?cursor=abc"
		_, err := client.IncrementalTickets(context.Background(), time.Time{}, nextLink)
		require.NoError(t, err)
		require.NotNil(t, captured)
		assert.Equal(t, nextLink, captured.URL.String())
	})
}
