package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/foomo/confluence-mcp/confluence"
	"github.com/foomo/confluence-mcp/mcp"
	"github.com/foomo/confluence-mcp/service"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

func main() {
	// Define command line flags
	stdioMode := flag.Bool("stdio", true, "Run in stdio mode")
	httpAddr := flag.String("http", "", "HTTP server address (e.g., ':8080')")
	baseURL := flag.String("base-url", os.Getenv("CONFLUENCE_URL"), "Confluence instance base URL")
	limit := flag.Int("limit", confluence.DefaultLimit, "Page-size limit per batch")
	expand := flag.String("expand", confluence.DefaultExpand, "Fields the API inlines per page")
	maxRetries := flag.Int("max-retries", confluence.DefaultMaxRetries, "Attempts per batch request")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if *baseURL == "" {
		logger.Fatal("confluence base URL is required (-base-url or CONFLUENCE_URL)")
	}

	settings := confluence.Settings{
		BaseURL:             *baseURL,
		Username:            os.Getenv("CONFLUENCE_USERNAME"),
		APIToken:            os.Getenv("CONFLUENCE_API_TOKEN"),
		PersonalAccessToken: os.Getenv("CONFLUENCE_PAT"),
		Limit:               *limit,
		Expand:              *expand,
		MaxRetries:          *maxRetries,
	}

	serviceInstance := service.NewService(logger, settings, nil, nil)
	s := mcp.NewServer(serviceInstance)

	if *httpAddr != "" {
		// Start the HTTP server with SSE endpoints
		logger.Info("starting MCP server", zap.String("httpAddr", *httpAddr))
		httpSSEServer := mcp.NewHTTPSSEServer(logger, s, serviceInstance, "/mcp", nil)
		if err := http.ListenAndServe(*httpAddr, httpSSEServer); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
		os.Exit(0)
	}
	// Start the stdio server
	if !*stdioMode {
		logger.Info("no transport selected, falling back to stdio")
	} else {
		logger.Info("starting MCP server in stdio mode")
	}
	if err := server.ServeStdio(s); err != nil {
		logger.Fatal("stdio server failed", zap.Error(err))
	}
}
