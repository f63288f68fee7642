package vo

// Text is normalized plain-text page content.
type Text string

// Page is an immutable snapshot of a Confluence content item as returned
// by the REST API. It is never mutated locally.
type Page struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Status  string   `json:"status"`
	Title   string   `json:"title"`
	Body    Body     `json:"body"`
	Version *Version `json:"version,omitempty"`
}

type Body struct {
	Storage Storage `json:"storage"`
}

// Storage holds the page body in Confluence storage format (HTML-like
// markup with structured macros).
type Storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation,omitempty"`
}

type Version struct {
	Number int     `json:"number"`
	When   string  `json:"when"`
	By     *Author `json:"by,omitempty"`
}

type Author struct {
	DisplayName string `json:"displayName"`
}

// SearchResult is one batch of the content search response.
type SearchResult struct {
	Results []Page `json:"results"`
	Start   int    `json:"start"`
	Limit   int    `json:"limit"`
	Size    int    `json:"size"`
}

type Metadata map[string]any

// Document is the normalized output derived from one Page.
type Document struct {
	PageContent string   `json:"pageContent"`
	Metadata    Metadata `json:"metadata"`
}
