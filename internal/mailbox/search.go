package mailbox

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// listResponse is one page of message-search results.
type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// Search runs every configured query against the mailbox, fully
// paginating each one, and merges the message ids into a de-duplicated
// list: a message matched by two queries is processed once. No message
// content is fetched here. The second return is the number of queries
// that failed; failed queries are logged and do not abort discovery.
func (c *Client) Search(ctx context.Context, token string) ([]string, int) {
	seen := make(map[string]struct{})
	var ids []string
	failed := 0

	for _, query := range c.queries {
		pageToken := ""
		for {
			path := "/users/me/messages?q=" + url.QueryEscape(query)
			if pageToken != "" {
				path += "&pageToken=" + url.QueryEscape(pageToken)
			}

			var page listResponse
			if err := c.getJSON(ctx, token, path, &page); err != nil {
				c.logger.Warn(ctx, "message search query failed",
					zap.String("query", query),
					zap.Error(err))
				failed++
				break
			}

			for _, m := range page.Messages {
				if _, dup := seen[m.ID]; dup {
					continue
				}
				seen[m.ID] = struct{}{}
				ids = append(ids, m.ID)
			}

			pageToken = page.NextPageToken
			if pageToken == "" {
				break
			}
		}
	}

	c.logger.Debug(ctx, "message discovery complete",
		zap.Int("messages", len(ids)),
		zap.Int("failed_queries", failed))
	return ids, failed
}
