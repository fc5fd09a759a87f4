// Package httpapi exposes the tool surface over HTTP for deployments where
// stdio is impractical. Browser attachments are per-session, keyed by the
// X-Browser-Session header.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/session"
	"github.com/Heather8769/any-browser-mcp/internal/tools"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// SessionHeader carries the client's session token; responses echo it back,
// minted when absent.
const SessionHeader = "X-Browser-Session"

type sessionTokenKey struct{}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey{}).(string)
	return token
}

// NewServer builds the HTTP handler around a session manager.
func NewServer(mgr *SessionManager, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(sessionToken)

	cfg := huma.DefaultConfig("Any Browser MCP API", tools.Version)
	api := humachi.New(router, cfg)

	// Tool definitions are static; a throwaway detached server provides them
	// without touching a browser.
	index := tools.NewServer(
		browse.New(session.NewRegistry(session.ModeRaw), browse.Options{Logger: log}), log)

	registerHealth(api)
	registerTools(api, mgr, index, log)
	registerSession(api, mgr)

	return router
}

func registerHealth(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Version = tools.Version
			return out, nil
		})
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func registerTools(api huma.API, mgr *SessionManager, index *tools.Server, log *slog.Logger) {
	type listOutput struct {
		Body struct {
			Tools []toolSummary `json:"tools"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tools", Method: http.MethodGet, Path: "/api/v1/tools", Summary: "List available tools", Tags: []string{"Tools"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			out := &listOutput{}
			for _, def := range index.Tools() {
				out.Body.Tools = append(out.Body.Tools, toolSummary{Name: def.Name, Description: def.Description})
			}
			return out, nil
		})

	type callInput struct {
		Name string         `path:"name"`
		Body map[string]any `required:"false"`
	}
	type callOutput struct {
		Body map[string]any
	}
	huma.Register(api, huma.Operation{OperationID: "call-tool", Method: http.MethodPost, Path: "/api/v1/tools/{name}", Summary: "Invoke a tool", Tags: []string{"Tools"}},
		func(ctx context.Context, input *callInput) (*callOutput, error) {
			srv, err := mgr.Acquire(ctx, tokenFrom(ctx))
			if err != nil {
				return nil, mapErr(err)
			}
			result, ok := srv.Dispatch(ctx, input.Name, input.Body)
			if !ok {
				return nil, huma.Error404NotFound("unknown tool: " + input.Name)
			}

			data, err := json.Marshal(result)
			if err != nil {
				log.Error("tool result marshal failed", "tool", input.Name, "error", err)
				return nil, huma.Error500InternalServerError("unmarshalable tool result")
			}
			out := &callOutput{}
			if err := json.Unmarshal(data, &out.Body); err != nil {
				return nil, huma.Error500InternalServerError("non-object tool result")
			}
			return out, nil
		})
}

func registerSession(api huma.API, mgr *SessionManager) {
	type releaseOutput struct {
		Body struct {
			Released bool `json:"released"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "release-session", Method: http.MethodDelete, Path: "/api/v1/session", Summary: "Release this session's browser attachment", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*releaseOutput, error) {
			out := &releaseOutput{}
			out.Body.Released = mgr.Release(tokenFrom(ctx))
			return out, nil
		})
}

// mapErr converts coded errors from session attachment into HTTP statuses.
// Tool execution failures never reach here; they live inside tool results.
func mapErr(err error) error {
	var coded *types.CodedError
	if !errors.As(err, &coded) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch coded.Code {
	case types.CodeValidation:
		return huma.Error400BadRequest(coded.Message)
	case types.CodeDiscoveryFailed, types.CodeLaunchFailed, types.CodeChannelClosed:
		return huma.Error502BadGateway(err.Error())
	case types.CodeCommandTimeout:
		return huma.Error504GatewayTimeout(coded.Message)
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
