// Package http is the HTTP transport of the download pipeline.
//
// A Client stacks two http.RoundTripper decorators over net/http:
//
//	RetryTransport  repeats connection failures, timeouts and transient
//	                statuses (429, 502, 503, 504 by default)
//	CacheTransport  serves fresh responses from a cache.Store, revalidates
//	                stale ones and captures new bodies on EOF
//
// # Errors
//
// Failures are reported as *TransportError with one of the kinds
// ConnectionFailed, Timeout, HTTPStatus or DecodeFailed. The type implements
// the retry package's classification interfaces, so a retry.Policy can
// decide on it directly:
//
//	var te *http.TransportError
//	if errors.As(err, &te) && te.Kind == http.HTTPStatus {
//	    log.Printf("server said %d", te.Status)
//	}
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Policy: retry.NewPolicy(3, 500*time.Millisecond, 30*time.Second),
//	    Store:  store,
//	})
//	cover, err := client.GetBytes(ctx, coverURL)
package http
