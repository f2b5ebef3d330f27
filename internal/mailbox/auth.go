package mailbox

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// RefreshAccessToken exchanges a stored long-lived refresh credential
// for a short-lived access token. Called once per user per sync run;
// the token is never persisted. Failure here is fatal for that user's
// run.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshCredential string) (string, error) {
	if refreshCredential == "" {
		return "", fmt.Errorf("empty refresh credential")
	}

	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.tokenURL,
		},
	}

	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshCredential})
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}
	return token.AccessToken, nil
}
