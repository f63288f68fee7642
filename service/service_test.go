package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/foomo/confluence-mcp/confluence"
	"github.com/foomo/confluence-mcp/service/vo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixturePages() []vo.Page {
	return []vo.Page{
		{
			ID:     "1",
			Type:   "page",
			Status: "current",
			Title:  "Alpha",
			Body:   vo.Body{Storage: vo.Storage{Value: "<p>alpha</p>"}},
			Version: &vo.Version{
				Number: 3,
				When:   "2024-05-01T10:00:00.000Z",
				By:     &vo.Author{DisplayName: "Alice"},
			},
		},
		{
			ID:     "2",
			Type:   "page",
			Status: "current",
			Title:  "Beta",
			Body:   vo.Body{Storage: vo.Storage{Value: "<p>beta</p>"}},
		},
	}
}

// newUpstream serves the given pages with offset pagination, failing the
// first `failures` requests with a 500.
func newUpstream(pages []vo.Page, failures int) *httptest.Server {
	remaining := failures
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if remaining > 0 {
			remaining--
			http.Error(w, "upstream unavailable", http.StatusInternalServerError)
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		var results []vo.Page
		if start < len(pages) {
			results = pages[start:]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(vo.SearchResult{Results: results, Size: len(results)})
	}))
}

func newTestService(t *testing.T, srv *httptest.Server, maxRetries int, splitter Splitter) Service {
	t.Helper()
	return NewService(
		zap.NewNop(),
		confluence.Settings{BaseURL: srv.URL, MaxRetries: maxRetries},
		srv.Client(),
		splitter,
	)
}

func TestLoadDocuments(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	docs := svc.Load(context.Background(), LoadOptions{SpaceKey: "OPS"})
	t.Log(spew.Sdump(docs))

	require.Len(t, docs, 2)
	require.Equal(t, "alpha", docs[0].PageContent)
	require.Equal(t, "beta", docs[1].PageContent)
	require.Equal(t, "Alpha", docs[0].Metadata["title"])
	require.Equal(t, srv.URL+"/spaces/OPS/pages/1", docs[0].Metadata["url"])
	require.Equal(t, 3, docs[0].Metadata["version"])
	require.NotContains(t, docs[1].Metadata, "version")
}

func TestLoadMergesAdditionalMetadata(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	docs := svc.Load(context.Background(), LoadOptions{
		SpaceKey:           "OPS",
		AdditionalMetadata: vo.Metadata{"source": "unit-test"},
	})

	require.Len(t, docs, 2)
	for _, doc := range docs {
		require.Equal(t, "unit-test", doc.Metadata["source"])
		require.Equal(t, "page", doc.Metadata["type"])
	}
}

func TestLoadOmitAllMetadataKeys(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	docs := svc.Load(context.Background(), LoadOptions{
		SpaceKey:           "OPS",
		OmitMetadataKeys:   "*",
		AdditionalMetadata: vo.Metadata{"source": "unit-test"},
	})

	require.Len(t, docs, 2)
	for _, doc := range docs {
		require.Equal(t, vo.Metadata{"source": "unit-test"}, doc.Metadata)
	}
}

func TestLoadOmitSpecificMetadataKeys(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	docs := svc.Load(context.Background(), LoadOptions{
		SpaceKey:         "OPS",
		OmitMetadataKeys: "title, url",
	})

	require.Len(t, docs, 2)
	for _, doc := range docs {
		require.NotContains(t, doc.Metadata, "title")
		require.NotContains(t, doc.Metadata, "url")
		require.Contains(t, doc.Metadata, "id")
		require.Contains(t, doc.Metadata, "status")
	}
}

func TestLoadSwallowsFetchErrors(t *testing.T) {
	// fails more often than the retry budget allows
	srv := newUpstream(fixturePages(), 100)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	docs := svc.Load(context.Background(), LoadOptions{SpaceKey: "OPS"})
	require.Empty(t, docs)
}

func TestLoadRecoversWithinRetryBudget(t *testing.T) {
	srv := newUpstream(fixturePages(), 2)
	defer srv.Close()

	svc := newTestService(t, srv, 5, nil)
	docs := svc.Load(context.Background(), LoadOptions{SpaceKey: "OPS"})
	require.Len(t, docs, 2)
}

func TestLoadWithoutSpaceKey(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	docs := svc.Load(context.Background(), LoadOptions{})
	require.Empty(t, docs)
}

type stubSplitter struct {
	called bool
}

func (s *stubSplitter) SplitDocuments(docs []vo.Document) []vo.Document {
	s.called = true
	return docs
}

func TestLoadInvokesSplitter(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	splitter := &stubSplitter{}
	svc := newTestService(t, srv, 2, splitter)
	docs := svc.Load(context.Background(), LoadOptions{SpaceKey: "OPS"})
	require.Len(t, docs, 2)
	require.True(t, splitter.called)
}

func TestLoadText(t *testing.T) {
	srv := newUpstream(fixturePages(), 0)
	defer srv.Close()

	svc := newTestService(t, srv, 2, nil)
	text := svc.LoadText(context.Background(), LoadOptions{SpaceKey: "OPS"})
	require.Equal(t, vo.Text("alpha\nbeta"), text)
}

func TestNormalizeControlChars(t *testing.T) {
	require.Equal(t, "a\nb\nc\td", normalizeControlChars("a\r\nb\\nc\\td"))
}
