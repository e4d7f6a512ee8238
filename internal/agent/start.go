// File: internal/agent/start.go
package agent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/config"
)

// deriveGoal produces the natural-language goal for a task.
func deriveGoal(task schemas.TaskDescriptor) (string, error) {
	if g := strings.TrimSpace(task.Goal); g != "" {
		return g, nil
	}
	if d := strings.TrimSpace(task.Description); d != "" {
		return d, nil
	}

	var parts []string
	if q := strings.TrimSpace(task.SearchQuery); q != "" {
		parts = append(parts, fmt.Sprintf("Search for %q", q))
	}
	if p := strings.TrimSpace(task.Platform); p != "" {
		parts = append(parts, "on "+p)
	}
	if u := strings.TrimSpace(task.URL); u != "" {
		if len(parts) == 0 {
			parts = append(parts, "Open "+u)
		} else {
			parts = append(parts, "starting at "+u)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: task needs a goal, description, url, search query or platform", ErrInvalidInput)
	}
	if len(parts) == 1 && strings.HasPrefix(parts[0], "on ") {
		return "Open " + strings.TrimPrefix(parts[0], "on "), nil
	}
	return strings.Join(parts, " "), nil
}

// deriveStartURL picks the first page: an explicit URL, else a search for the
// query, else the platform's home page, else the search engine itself.
func deriveStartURL(task schemas.TaskDescriptor, cfg config.DecisionConfig) string {
	if u := strings.TrimSpace(task.URL); u != "" {
		return normalizeURL(u)
	}
	engine := strings.TrimRight(cfg.SearchEngineURL, "/")
	if q := strings.TrimSpace(task.SearchQuery); q != "" {
		return engine + "/search?q=" + url.QueryEscape(q)
	}
	if p := strings.ToLower(strings.TrimSpace(task.Platform)); p != "" {
		if home, ok := cfg.Platforms[p]; ok {
			return home
		}
	}
	return engine
}

// normalizeURL adds https:// to bare hosts.
func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + strings.TrimPrefix(raw, "//")
}
