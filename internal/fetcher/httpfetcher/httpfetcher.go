// Package httpfetcher is the reference Fetcher implementation: a single
// conditional GET per key over hashicorp/go-retryablehttp, translating
// If-None-Match / If-Modified-Since to and from the fetcher.Result
// taxonomy. retryablehttp already owns connection-level retry (DNS
// failures, connection resets); this adapter only needs to classify the
// final outcome, not retry it again — the resilience core above the
// fetcher owns application-level retry policy.
package httpfetcher

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/storexerr"
)

// BodyDecoder turns a response body into Net, e.g. json.Unmarshal into a
// pointer. Returning an error classifies the fetch as a Serialization
// failure.
type BodyDecoder[Net any] func(body []byte) (Net, error)

// URLBuilder maps a key to the URL to fetch.
type URLBuilder func(k string) string

// Fetcher adapts retryablehttp.Client to fetcher.Fetcher[Net].
type Fetcher[Net any] struct {
	client  *retryablehttp.Client
	urlFor  URLBuilder
	decode  BodyDecoder[Net]
	headers map[string]string // static headers, e.g. auth, applied to every request
}

// New returns an httpfetcher.Fetcher. client may be nil to use
// retryablehttp's defaults with logging silenced (cmd/storexdemo passes nil
// and takes this default).
func New[Net any](client *retryablehttp.Client, urlFor URLBuilder, decode BodyDecoder[Net], headers map[string]string) *Fetcher[Net] {
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}
	return &Fetcher[Net]{client: client, urlFor: urlFor, decode: decode, headers: headers}
}

// Fetch issues one conditional or unconditional GET and emits exactly one
// terminal Result.
func (f *Fetcher[Net]) Fetch(ctx context.Context, k string, cond *fetcher.Conditional) <-chan fetcher.Result[Net] {
	out := make(chan fetcher.Result[Net], 1)

	go func() {
		defer close(out)

		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.urlFor(k), nil)
		if err != nil {
			out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: storexerr.Wrap(err, storexerr.Unknown, "build request")}
			return
		}
		for name, val := range f.headers {
			req.Header.Set(name, val)
		}
		if cond != nil {
			if cond.Etag != nil {
				req.Header.Set("If-None-Match", *cond.Etag)
			}
			if cond.LastModified != nil {
				req.Header.Set("If-Modified-Since", cond.LastModified.UTC().Format(http.TimeFormat))
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: classifyTransportErr(err)}
			return
		}
		defer resp.Body.Close()

		etag := headerPtr(resp.Header, "ETag")

		switch {
		case resp.StatusCode == http.StatusNotModified:
			out <- fetcher.Result[Net]{Kind: fetcher.NotModified, Etag: etag}

		case resp.StatusCode == http.StatusTooManyRequests:
			out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: storexerr.RateLimitedError(retryAfter(resp))}

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: storexerr.Wrap(err, storexerr.NetworkTimeout, "read body")}
				return
			}
			net, err := f.decode(body)
			if err != nil {
				out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: storexerr.Wrap(err, storexerr.Serialization, "decode body")}
				return
			}
			var lm *time.Time
			if raw := resp.Header.Get("Last-Modified"); raw != "" {
				if t, err := http.ParseTime(raw); err == nil {
					lm = &t
				}
			}
			out <- fetcher.Result[Net]{Kind: fetcher.Success, Body: net, Etag: etag, LastModified: lm}

		default:
			body, _ := io.ReadAll(resp.Body)
			out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: storexerr.HTTPError(resp.StatusCode, string(body))}
		}
	}()

	return out
}

func headerPtr(h http.Header, name string) *string {
	v := h.Get(name)
	if v == "" {
		return nil
	}
	return &v
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		return time.Until(when)
	}
	return 0
}

func classifyTransportErr(err error) *storexerr.Error {
	if ctxErr := err; ctxErr != nil {
		if ue, ok := ctxErr.(interface{ Timeout() bool }); ok && ue.Timeout() {
			return storexerr.Wrap(err, storexerr.NetworkTimeout, "http transport timeout")
		}
	}
	return storexerr.From(err)
}
