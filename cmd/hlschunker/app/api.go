package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/streamrec/hlschunker/pkg/pull"
)

// FeedInfo describes one configured feed and its pipeline state.
type FeedInfo struct {
	ID        string         `json:"id" doc:"Feed id, used as URL prefix for served chunks"`
	SourceURL string         `json:"source_feed" doc:"Source HLS playlist URL"`
	Metadata  map[string]any `json:"metadata,omitempty" doc:"Metadata submitted with every chunk"`
	Stats     *pull.Stats    `json:"stats,omitempty" doc:"Recording pipeline counters"`
}

type FeedsListResponse struct {
	Body struct {
		Feeds []FeedInfo `json:"feeds" doc:"All configured active feeds"`
	}
}

type FeedResponse struct {
	Body FeedInfo
}

func createListFeedsHdlr(s *Server) func(ctx context.Context, input *struct{}) (*FeedsListResponse, error) {
	return func(ctx context.Context, input *struct{}) (*FeedsListResponse, error) {
		resp := &FeedsListResponse{}
		resp.Body.Feeds = []FeedInfo{}
		for _, spec := range s.feeds.Specs() {
			resp.Body.Feeds = append(resp.Body.Feeds, FeedInfo{
				ID:        spec.ID,
				SourceURL: spec.SourceURL,
				Metadata:  spec.Metadata,
			})
		}
		return resp, nil
	}
}

type feedIdInput struct {
	Id string `path:"id" maxLength:"64" example:"dw-english" doc:"Feed id"`
}

func createGetFeedHdlr(s *Server) func(ctx context.Context, input *feedIdInput) (*FeedResponse, error) {
	return func(ctx context.Context, input *feedIdInput) (*FeedResponse, error) {
		spec, puller, ok := s.feeds.Get(input.Id)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("feed %s not found", input.Id))
		}
		stats := puller.Stats()
		resp := &FeedResponse{}
		resp.Body = FeedInfo{
			ID:        spec.ID,
			SourceURL: spec.SourceURL,
			Metadata:  spec.Metadata,
			Stats:     &stats,
		}
		return resp, nil
	}
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("Hlschunker API for feeds", "1.0.0")
		config.Servers = []*huma.Server{
			{URL: "/api"},
		}
		config.Info.Description = `Inspection API for the recording pipelines: the configured
		feeds, their metadata, and live pipeline counters.`

		api := humachi.New(r, config)

		// Register GET /feeds listing all configured active feeds
		huma.Register(api, huma.Operation{
			OperationID: "list-feeds",
			Method:      http.MethodGet,
			Path:        "/feeds",
			Summary:     "List configured active feeds",
			Tags:        []string{"feeds"},
		}, createListFeedsHdlr(s))

		// Register GET /feeds/{id}
		huma.Register(api, huma.Operation{
			OperationID: "get-feed",
			Method:      http.MethodGet,
			Path:        "/feeds/{id}",
			Summary:     "Get one feed with its pipeline counters",
			Tags:        []string{"feeds"},
			Errors:      []int{404},
		}, createGetFeedHdlr(s))
	}
}
