package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

// maxWebpageBytes caps a fetched page before it reaches the model.
const maxWebpageBytes = 256 * 1024

func webTools(deps Deps) []agent.Tool {
	var out []agent.Tool

	if deps.Search != nil {
		out = append(out, &funcTool{
			def: models.ToolDefinition{
				Name:        "web_search",
				Description: "Search the web and return the top results.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"query": {"type": "string"},
						"limit": {"type": "integer", "minimum": 1, "maximum": 20}
					},
					"required": ["query"]
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "internet"); err != nil {
					return errResult(err)
				}
				var in struct {
					Query string `json:"query"`
					Limit int    `json:"limit"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}
				if in.Limit <= 0 {
					in.Limit = 5
				}
				results, err := deps.Search.Search(ctx, in.Query, in.Limit)
				if err != nil {
					return errResult(models.NewError(models.KindExternal, "search backend", err))
				}
				return okResult(map[string]any{"count": len(results), "results": results})
			},
		})
	}

	if deps.HTTPClient != nil {
		out = append(out, &funcTool{
			def: models.ToolDefinition{
				Name:        "fetch_webpage",
				Description: "Fetch a webpage and return its raw content, capped in size.",
				ParameterSchema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"url": {"type": "string"}
					},
					"required": ["url"]
				}`),
				SideEffectClass: models.ReadOnly,
			},
			fn: func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
				if err := requirePermission(deps.Perms, "internet"); err != nil {
					return errResult(err)
				}
				var in struct {
					URL string `json:"url"`
				}
				if err := json.Unmarshal(params, &in); err != nil {
					return errResult(models.NewError(models.KindValidation, "invalid params", err))
				}

				parsed, err := url.Parse(in.URL)
				if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
					return errResult(models.NewError(models.KindValidation, "url must be http(s)", err))
				}
				if !hostAllowed(parsed.Hostname(), deps.Perms.AllowedWebsites) {
					return errResult(models.NewError(models.KindPermissionDenied, fmt.Sprintf("host %s is not on the allowed list", parsed.Hostname()), nil))
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
				if err != nil {
					return errResult(models.NewError(models.KindValidation, "build request", err))
				}
				resp, err := deps.HTTPClient.Do(req)
				if err != nil {
					return errResult(models.NewError(models.KindExternal, "fetch webpage", err))
				}
				defer resp.Body.Close()

				body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebpageBytes))
				if err != nil {
					return errResult(models.NewError(models.KindExternal, "read body", err))
				}
				return okResult(map[string]any{
					"status":  resp.StatusCode,
					"content": string(body),
				})
			},
		})
	}

	return out
}

// hostAllowed matches host against the agent's allowed-website
// patterns. An empty pattern list allows every host; a "*." prefix
// matches the bare domain and any subdomain.
func hostAllowed(host string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if p == "*" || p == host {
			return true
		}
		if bare, ok := strings.CutPrefix(p, "*."); ok {
			if host == bare || strings.HasSuffix(host, "."+bare) {
				return true
			}
		}
	}
	return false
}
