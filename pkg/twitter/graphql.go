package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// GraphQL operation names.
const (
	opUserByScreenName     = "UserByScreenName"
	opUserTweetsAndReplies = "UserTweetsAndReplies"
	opTweetDetail          = "TweetDetail"
)

// Default query ids as a last-resort fallback. X rotates them with client
// releases; override via config when they go stale.
var defaultQueryIDs = map[string]string{
	opUserByScreenName:     "xmU6X_CKVnQ5lSrCbAmJsg",
	opUserTweetsAndReplies: "Ec5qCEnNSRSRwE1TlwPO4Q",
	opTweetDetail:          "nBS-WpgA6ZG0CyNHD517JQ",
}

// defaultFeatures is the feature flag set the web client sends with
// timeline queries.
const defaultFeatures = `{"rweb_tipjar_consumption_enabled":true,"responsive_web_graphql_exclude_directive_enabled":true,"verified_phone_label_enabled":false,"creator_subscriptions_tweet_preview_api_enabled":true,"responsive_web_graphql_timeline_navigation_enabled":true,"responsive_web_graphql_skip_user_profile_image_extensions_enabled":false,"communities_web_enable_tweet_community_results_fetch":true,"c9s_tweet_anatomy_moderator_badge_enabled":true,"articles_preview_enabled":true,"responsive_web_edit_tweet_api_enabled":true,"graphql_is_translatable_rweb_tweet_is_translatable_enabled":true,"view_counts_everywhere_api_enabled":true,"longform_notetweets_consumption_enabled":true,"responsive_web_twitter_article_tweet_consumption_enabled":true,"tweet_awards_web_tipping_enabled":false,"creator_subscriptions_quote_tweet_preview_enabled":false,"freedom_of_speech_not_reach_fetch_enabled":true,"standardized_nudges_misinfo":true,"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled":true,"rweb_video_timestamps_enabled":true,"longform_notetweets_rich_text_read_enabled":true,"longform_notetweets_inline_media_enabled":true,"responsive_web_enhance_cards_enabled":false,"hidden_profile_subscriptions_enabled":true,"subscriptions_verification_info_is_identity_verified_enabled":true,"subscriptions_verification_info_verified_since_enabled":true,"highlights_tweets_tab_ui_enabled":true,"responsive_web_twitter_article_notes_tab_enabled":true,"subscriptions_feature_can_gift_premium":true}`

// graphql issues a GET for operation and decodes the response "data"
// object into out.
func (c *Client) graphql(ctx context.Context, operation string, vars map[string]any, out any) error {
	queryID := c.queryIDs[operation]
	if queryID == "" {
		return fmt.Errorf("no query id for %s", operation)
	}

	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}

	reqURL := fmt.Sprintf("%s/i/api/graphql/%s/%s?variables=%s&features=%s",
		c.baseURL,
		queryID,
		operation,
		url.QueryEscape(string(varsJSON)),
		url.QueryEscape(c.features),
	)

	var env struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.getJSON(ctx, reqURL, &env); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if len(env.Errors) > 0 {
			return fmt.Errorf("%s: %s", operation, env.Errors[0].Message)
		}
		return fmt.Errorf("%s: empty response", operation)
	}
	if len(env.Errors) > 0 {
		c.logger.Debug("graphql partial errors", "operation", operation, "error", env.Errors[0].Message)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", operation, err)
	}
	return nil
}
