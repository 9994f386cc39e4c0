package entity

// CrawlResult is the outcome of one claimed request. Exactly one result is
// published per claim, whatever path the probe round-trip took.
type CrawlResult struct {
	Request    *Request
	Discovered []*Request
	Errors     []string
}
