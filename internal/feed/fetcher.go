package feed

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Sample is one observation of an external price source.
type Sample struct {
	Value float64
	// SourceTimestamp is the source's own clock when it produced the value,
	// or our wall clock when the feed exposes no timestamp path.
	SourceTimestamp uint64
}

// FetchError classifies a failed fetch so the monitor can record the right
// feed-log fields. Exactly one of the three categories applies.
type FetchError struct {
	err error
	// StatusCode is set when the source answered with a non-200 status.
	StatusCode int
	network    bool
	parse      bool
}

func (e *FetchError) Error() string { return e.err.Error() }

// IsHTTP reports that the source responded, but with a non-200 status.
func (e *FetchError) IsHTTP() bool { return e.StatusCode != 0 }

// IsNetwork reports a transport failure with no HTTP response at all.
func (e *FetchError) IsNetwork() bool { return e.network }

// IsParse reports a 200 response whose body could not be reduced to a value.
func (e *FetchError) IsParse() bool { return e.parse }

// StatusLabel is the status_code label recorded on the request counter.
func (e *FetchError) StatusLabel() string {
	switch {
	case e.IsHTTP():
		return strconv.Itoa(e.StatusCode)
	case e.network:
		return "network_error"
	default:
		// Parse failures happen after a 200 response.
		return "200"
	}
}

const fetchTimeout = 10 * time.Second

// Fetcher retrieves and extracts datasource samples. It holds no per-feed
// state and is shared by every monitor.
type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch GETs url and extracts the value at valuePath. When timestampPath is
// non-empty the source's timestamp is extracted the same way; otherwise the
// sample is stamped with the local clock. Every error is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url, valuePath, timestampPath string) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Sample{}, &FetchError{err: errors.Wrap(err, "building request"), network: true}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Sample{}, &FetchError{err: errors.Wrap(err, "requesting feed"), network: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, &FetchError{
			err:        errors.Errorf("feed returned HTTP status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, &FetchError{err: errors.Wrap(err, "reading response body"), network: true}
	}
	if !gjson.ValidBytes(body) {
		return Sample{}, &FetchError{err: errors.New("response body is not valid JSON"), parse: true}
	}
	doc := gjson.ParseBytes(body)

	value, err := extractNumber(doc, valuePath)
	if err != nil {
		return Sample{}, &FetchError{err: err, parse: true}
	}

	sample := Sample{Value: value, SourceTimestamp: uint64(time.Now().Unix())}
	if timestampPath != "" {
		ts, err := extractNumber(doc, timestampPath)
		if err != nil {
			return Sample{}, &FetchError{err: err, parse: true}
		}
		if ts < 0 {
			ts = 0
		}
		sample.SourceTimestamp = uint64(ts)
	}
	return sample, nil
}

// extractNumber walks path one dot-separated component at a time. A numeric
// component indexes the current node when it is an array and is otherwise an
// object key, so "data.0.price" works against both shapes.
func extractNumber(doc gjson.Result, path string) (float64, error) {
	cur := doc
	for i, component := range strings.Split(path, ".") {
		next := cur.Get(component)
		if !next.Exists() {
			return 0, errors.Errorf("no value at path component %q (position %d) in path %q", component, i, path)
		}
		cur = next
	}
	switch cur.Type {
	case gjson.Number:
		return cur.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(cur.Str, 64)
		if err != nil {
			return 0, errors.Errorf("value %q at path %q is not numeric", cur.Str, path)
		}
		return v, nil
	default:
		return 0, errors.Errorf("value at path %q is %s, expected a number", path, cur.Type)
	}
}
