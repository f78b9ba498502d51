package acquisition

import "context"

// Fetcher performs a redirect-validated HTTP fetch.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Analyzer turns document bytes into structured data. It returns an error on
// unparseable input.
type Analyzer interface {
	Analyze(ctx context.Context, document []byte) (StructuredDocument, error)
}

// Resolution is the outcome of mapping a notice page to a buyer-platform URL.
// URL is empty when nothing usable was found.
type Resolution struct {
	URL    string
	Source string
	Detail string
}

// Resolver rewrites thin notice-listing URLs to the real buyer-platform URL.
type Resolver interface {
	Applies(sourceURL string) bool
	Resolve(ctx context.Context, noticeID, sourceURL string) (Resolution, error)
}

// Unlocker is the third-party scrape/unlock service. Both calls are best
// effort; a nil result without error means the service found nothing.
type Unlocker interface {
	FetchRaw(ctx context.Context, rawURL string) ([]byte, error)
	DiscoverLinks(ctx context.Context, rawURL string) ([]NamedLink, error)
}

// HeadlessWorker renders a page with a full browser and returns the document
// it ends up serving, or nil.
type HeadlessWorker interface {
	Scrape(ctx context.Context, rawURL string) ([]byte, error)
}

// URLValidator rejects URLs that must never be dereferenced.
type URLValidator interface {
	Check(raw string) error
}
