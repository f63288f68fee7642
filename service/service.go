package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/foomo/confluence-mcp/confluence"
	"github.com/foomo/confluence-mcp/service/vo"
	"go.uber.org/zap"
)

// DefaultMetadataKeys are the metadata keys the normalizer attaches to
// every document. OmitMetadataKeys can only remove keys from this set;
// caller-supplied metadata is never dropped.
var DefaultMetadataKeys = []string{
	"id", "status", "title", "type", "url", "version", "updated_by", "updated_at",
}

type Service interface {
	// Load fetches every matching page of a space and maps it through the
	// normalizer. Fetch failures are logged and swallowed: the caller gets
	// an empty slice, indistinguishable from an empty space.
	Load(ctx context.Context, opts LoadOptions) []vo.Document
	// LoadText is Load with the page contents joined into a single string.
	LoadText(ctx context.Context, opts LoadOptions) vo.Text
}

// Splitter is an external collaborator invoked after document
// construction, typically a text splitter feeding an embedding pipeline.
type Splitter interface {
	SplitDocuments(docs []vo.Document) []vo.Document
}

type LoadOptions struct {
	SpaceKey string
	Label    string
	// AdditionalMetadata is merged into every document's metadata after
	// the omit list is applied.
	AdditionalMetadata vo.Metadata
	// OmitMetadataKeys is a comma-separated list of default metadata keys
	// to drop, or "*" to drop all of them.
	OmitMetadataKeys string
}

type service struct {
	logger   *zap.Logger
	settings confluence.Settings
	client   *confluence.Client
	splitter Splitter
}

func NewService(
	logger *zap.Logger,
	settings confluence.Settings,
	httpClient *http.Client,
	splitter Splitter,
) Service {
	return &service{
		logger:   logger,
		settings: settings,
		client:   confluence.NewClient(settings, httpClient),
		splitter: splitter,
	}
}

func (s *service) Load(ctx context.Context, opts LoadOptions) []vo.Document {
	if opts.SpaceKey == "" {
		s.logger.Error("load called without a space key")
		return nil
	}

	pages, err := s.client.FetchAll(ctx, opts.SpaceKey, opts.Label)
	if err != nil {
		s.logger.Error("failed to load confluence space",
			zap.String("spaceKey", opts.SpaceKey),
			zap.String("label", opts.Label),
			zap.Error(err),
		)
		return nil
	}

	docs := make([]vo.Document, 0, len(pages))
	for _, page := range pages {
		doc := confluence.ToDocument(page, s.client.BaseURL(), opts.SpaceKey)
		doc.Metadata = applyMetadataOptions(doc.Metadata, opts)
		docs = append(docs, doc)
	}
	if s.splitter != nil {
		docs = s.splitter.SplitDocuments(docs)
	}

	s.logger.Info("loaded confluence space",
		zap.String("spaceKey", opts.SpaceKey),
		zap.Int("documents", len(docs)),
	)
	return docs
}

func (s *service) LoadText(ctx context.Context, opts LoadOptions) vo.Text {
	docs := s.Load(ctx, opts)
	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.PageContent
	}
	return vo.Text(normalizeControlChars(strings.Join(parts, "\n")))
}

func applyMetadataOptions(md vo.Metadata, opts LoadOptions) vo.Metadata {
	switch {
	case opts.OmitMetadataKeys == "*":
		for _, key := range DefaultMetadataKeys {
			delete(md, key)
		}
	case opts.OmitMetadataKeys != "":
		for _, key := range strings.Split(opts.OmitMetadataKeys, ",") {
			delete(md, strings.TrimSpace(key))
		}
	}
	for key, value := range opts.AdditionalMetadata {
		md[key] = value
	}
	return md
}

// controlEscapes folds carriage returns and literal escape sequences that
// survive storage-format round trips into plain newlines and tabs.
var controlEscapes = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	`\n`, "\n",
	`\t`, "\t",
)

func normalizeControlChars(text string) string {
	return controlEscapes.Replace(text)
}
