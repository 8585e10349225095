package provider

import (
	"context"
	"net/http"
)

// Fetcher is the transport every provider downloads through.
// *httpclient.ResilientClient satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}
