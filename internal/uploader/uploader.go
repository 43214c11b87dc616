// Package uploader submits generated tile assets to the remote
// asset-hosting service and polls its long-running operations.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/atlastiles/tilegen/internal/httputil"
	"github.com/atlastiles/tilegen/internal/timeutil"
)

// AssetKind is the service-side asset classification.
type AssetKind string

const (
	KindImage AssetKind = "Image"
	KindMesh  AssetKind = "Mesh"
)

// ContentType of the submitted file.
type ContentType string

const (
	ContentJPEG ContentType = "image/jpeg"
	ContentPNG  ContentType = "image/png"
	ContentOBJ  ContentType = "model/obj"
	ContentFBX  ContentType = "model/fbx"
)

// Error reports a failed upload API call after retries were exhausted.
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("uploader: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("uploader: %s: status %d: %s", e.Op, e.Status, truncate(e.Body, 200))
}

func (e *Error) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SubmitResult is the outcome of an asset submission. Exactly one of
// AssetID (the service finished synchronously) or OperationID (the
// service accepted the upload for async processing) is set.
type SubmitResult struct {
	AssetID     string
	OperationID string
}

// OperationStatus is the state of a polled async operation.
type OperationStatus struct {
	Done    bool
	Failed  bool
	AssetID string
	Message string
}

// Client talks to the asset-hosting upload API.
type Client struct {
	HTTP      httputil.Doer
	Clock     timeutil.Clock
	AssetsURL string
	OpsURL    string
	APIKey    string
	CreatorID string
	Backoff   httputil.Backoff
}

// New returns a client with the default backoff policy.
func New(httpClient httputil.Doer, clock timeutil.Clock, assetsURL, opsURL, apiKey, creatorID string) *Client {
	return &Client{
		HTTP:      httpClient,
		Clock:     clock,
		AssetsURL: strings.TrimRight(assetsURL, "/"),
		OpsURL:    strings.TrimRight(opsURL, "/"),
		APIKey:    apiKey,
		CreatorID: creatorID,
		Backoff:   httputil.DefaultBackoff(),
	}
}

type createRequest struct {
	AssetType       AssetKind       `json:"assetType"`
	DisplayName     string          `json:"displayName"`
	Description     string          `json:"description"`
	CreationContext creationContext `json:"creationContext"`
}

type creationContext struct {
	Creator creator `json:"creator"`
}

type creator struct {
	UserID string `json:"userId"`
}

// flexID decodes an asset ID that the service renders sometimes as a
// JSON number and sometimes as a string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

func (f flexID) String() string { return string(f) }

type createResponse struct {
	AssetID     flexID `json:"assetId"`
	OperationID string `json:"operationId"`
	Done        bool   `json:"done"`
	Response    *struct {
		AssetID flexID `json:"assetId"`
	} `json:"response"`
}

// CreateAsset submits content as a new asset. Rate limits retry with
// backoff; each retry rebuilds the multipart body and reuses the same
// idempotency key so the service can deduplicate.
func (c *Client) CreateAsset(ctx context.Context, content []byte, filename string, kind AssetKind, ct ContentType, displayName string) (SubmitResult, error) {
	reqMeta, err := json.Marshal(createRequest{
		AssetType:   kind,
		DisplayName: displayName,
		CreationContext: creationContext{
			Creator: creator{UserID: c.CreatorID},
		},
	})
	if err != nil {
		return SubmitResult{}, &Error{Op: "create asset", Err: err}
	}

	idempotencyKey := uuid.New().String()

	for attempt := 0; ; attempt++ {
		body, contentType, err := buildMultipart(reqMeta, content, filename, ct)
		if err != nil {
			return SubmitResult{}, &Error{Op: "create asset", Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AssetsURL, body)
		if err != nil {
			return SubmitResult{}, &Error{Op: "create asset", Err: err}
		}
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("x-idempotency-key", idempotencyKey)
		req.Header.Set("Content-Type", contentType)

		status, respBody, err := c.do(req)
		if err != nil {
			if ctx.Err() != nil {
				return SubmitResult{}, ctx.Err()
			}
			if attempt >= c.Backoff.MaxRetries {
				return SubmitResult{}, &Error{Op: "create asset", Err: err}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return SubmitResult{}, werr
			}
			continue
		}

		switch {
		case status/100 == 2:
			return parseSubmitResult(respBody)
		case httputil.Retryable(status):
			if attempt >= c.Backoff.MaxRetries {
				return SubmitResult{}, &Error{Op: "create asset", Status: status, Body: string(respBody)}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return SubmitResult{}, werr
			}
		default:
			return SubmitResult{}, &Error{Op: "create asset", Status: status, Body: string(respBody)}
		}
	}
}

func parseSubmitResult(body []byte) (SubmitResult, error) {
	var cr createResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return SubmitResult{}, &Error{Op: "parse create response", Body: string(body), Err: err}
	}
	switch {
	case cr.Done && cr.Response != nil && cr.Response.AssetID != "":
		return SubmitResult{AssetID: cr.Response.AssetID.String()}, nil
	case cr.AssetID != "":
		return SubmitResult{AssetID: cr.AssetID.String()}, nil
	case cr.OperationID != "":
		return SubmitResult{OperationID: cr.OperationID}, nil
	}
	return SubmitResult{}, &Error{Op: "parse create response", Body: string(body), Err: fmt.Errorf("neither assetId nor operationId present")}
}

type operationResponse struct {
	Done     bool `json:"done"`
	Response *struct {
		AssetID flexID `json:"assetId"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Operation polls the status of an async upload operation.
func (c *Client) Operation(ctx context.Context, operationID string) (OperationStatus, error) {
	url := c.OpsURL + "/" + operationID

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return OperationStatus{}, &Error{Op: "poll operation", Err: err}
		}
		req.Header.Set("x-api-key", c.APIKey)

		status, body, err := c.do(req)
		if err != nil {
			if ctx.Err() != nil {
				return OperationStatus{}, ctx.Err()
			}
			if attempt >= c.Backoff.MaxRetries {
				return OperationStatus{}, &Error{Op: "poll operation", Err: err}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return OperationStatus{}, werr
			}
			continue
		}

		switch {
		case status/100 == 2:
			var or operationResponse
			if err := json.Unmarshal(body, &or); err != nil {
				return OperationStatus{}, &Error{Op: "parse operation response", Body: string(body), Err: err}
			}
			if or.Error != nil {
				return OperationStatus{Done: true, Failed: true, Message: or.Error.Message}, nil
			}
			if or.Done && or.Response != nil {
				return OperationStatus{Done: true, AssetID: or.Response.AssetID.String()}, nil
			}
			return OperationStatus{}, nil
		case httputil.Retryable(status):
			if attempt >= c.Backoff.MaxRetries {
				return OperationStatus{}, &Error{Op: "poll operation", Status: status, Body: string(body)}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return OperationStatus{}, werr
			}
		default:
			return OperationStatus{}, &Error{Op: "poll operation", Status: status, Body: string(body)}
		}
	}
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	return doRequest(c.HTTP, req)
}

func doRequest(d httputil.Doer, req *http.Request) (int, []byte, error) {
	resp, err := d.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func buildMultipart(reqMeta, content []byte, filename string, ct ContentType) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("request", string(reqMeta)); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("fileContent", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
