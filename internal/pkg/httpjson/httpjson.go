package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// maximum response body we are prepared to read from a device or vendor
const maxBody = 1 << 20

// StatusError is returned for any non-2xx response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP status %d: %s", e.Code, e.Body)
}

// NewRequest builds a request with body encoded as JSON.  A nil body sends
// nothing.
func NewRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, []byte, error) {
	var data []byte
	var reader io.Reader

	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, nil, errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return req, data, nil
}

// Do executes req and decodes a JSON response into out, which may be nil
func Do(client *http.Client, req *http.Request, out interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}

	logging.Logger(req.Context()).Debugf("%s %s -> %d %s", req.Method, req.URL.Path, resp.StatusCode, body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "decoding response body")
	}

	return nil
}
