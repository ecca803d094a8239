package updater

import (
	"net/http"
	"sync"
)

// headerFilter adds download headers to the first request for one URL and
// then disarms itself.
type headerFilter struct {
	mu      sync.Mutex
	url     string
	headers http.Header
	armed   bool
}

func (f *headerFilter) arm(url string, headers http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	f.headers = headers
	f.armed = url != ""
}

// take returns the headers for url if the filter is armed for it.
func (f *headerFilter) take(url string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed || url != f.url {
		return nil
	}
	f.armed = false
	return f.headers.Clone()
}

func (f *headerFilter) isArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// downloadTransport applies the coordinator's one-shot download headers.
type downloadTransport struct {
	base   http.RoundTripper
	filter *headerFilter
}

func (t *downloadTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	headers := t.filter.take(req.URL.String())
	if headers == nil {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
