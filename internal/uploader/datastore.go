package uploader

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/atlastiles/tilegen/internal/httputil"
	"github.com/atlastiles/tilegen/internal/timeutil"
)

// DatastoreClient writes entries to the service's keyed datastore. It
// is used by the export tool to publish finished asset maps.
type DatastoreClient struct {
	HTTP    httputil.Doer
	Clock   timeutil.Clock
	BaseURL string
	APIKey  string
	Backoff httputil.Backoff
}

// NewDatastore returns a datastore client with the default backoff policy.
func NewDatastore(httpClient httputil.Doer, clock timeutil.Clock, baseURL, apiKey string) *DatastoreClient {
	return &DatastoreClient{
		HTTP:    httpClient,
		Clock:   clock,
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Backoff: httputil.DefaultBackoff(),
	}
}

// SetEntry stores value under key in the named datastore, retrying
// rate limits with backoff.
func (c *DatastoreClient) SetEntry(ctx context.Context, datastore, key string, value []byte) error {
	q := url.Values{}
	q.Set("datastoreName", datastore)
	q.Set("entryKey", key)
	endpoint := c.BaseURL + "/standard-datastores/datastore/entries/entry?" + q.Encode()

	sum := md5.Sum(value)
	checksum := base64.StdEncoding.EncodeToString(sum[:])

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(value))
		if err != nil {
			return &Error{Op: "set datastore entry", Err: err}
		}
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("content-md5", checksum)

		status, body, err := doRequest(c.HTTP, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= c.Backoff.MaxRetries {
				return &Error{Op: "set datastore entry", Err: err}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return werr
			}
			continue
		}

		switch {
		case status/100 == 2:
			return nil
		case httputil.Retryable(status):
			if attempt >= c.Backoff.MaxRetries {
				return &Error{Op: "set datastore entry", Status: status, Body: string(body)}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return werr
			}
		default:
			return &Error{Op: "set datastore entry", Status: status, Body: string(body)}
		}
	}
}
