// Package transform maps raw tweet rows into post and account documents.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyderes/tweet-ingest/internal/models"
)

// Source column names
const (
	FieldTweetID               = "tweetid"
	FieldUserID                = "userid"
	FieldUsername              = "username"
	FieldAcctDesc              = "acctdesc"
	FieldLocation              = "location"
	FieldFollowing             = "following"
	FieldFollowers             = "followers"
	FieldTotalTweets           = "totaltweets"
	FieldUserCreatedTS         = "usercreatedts"
	FieldTweetCreatedTS        = "tweetcreatedts"
	FieldRetweetCount          = "retweetcount"
	FieldText                  = "text"
	FieldHashtags              = "hashtags"
	FieldLanguage              = "language"
	FieldCoordinates           = "coordinates"
	FieldFavoriteCount         = "favorite_count"
	FieldIsRetweet             = "is_retweet"
	FieldOriginalTweetID       = "original_tweet_id"
	FieldOriginalTweetUserID   = "original_tweet_userid"
	FieldOriginalTweetUsername = "original_tweet_username"
	FieldInReplyToStatusID     = "in_reply_to_status_id"
	FieldInReplyToUserID       = "in_reply_to_user_id"
	FieldInReplyToScreenName   = "in_reply_to_screen_name"
	FieldIsQuoteStatus         = "is_quote_status"
	FieldQuotedStatusID        = "quoted_status_id"
	FieldQuotedStatusUserID    = "quoted_status_userid"
	FieldQuotedStatusUsername  = "quoted_status_username"
	FieldExtractedTS           = "extractedts"
)

const (
	// UnknownLanguage is stored when a row carries no language tag
	UnknownLanguage = "unknown"

	trueToken = "true"
	pointType = "Point"
)

var (
	// ErrMissingField is returned when a required identifier is empty
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidTimestamp is returned when a required timestamp cannot be parsed
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02",
}

// Transform maps one raw row into its post and account views. It fails only
// when a required identifier or timestamp is unusable.
func Transform(rec models.RawRecord) (models.Post, models.Account, error) {
	post, err := ToPost(rec)
	if err != nil {
		return models.Post{}, models.Account{}, err
	}
	account, err := ToAccount(rec)
	if err != nil {
		return models.Post{}, models.Account{}, err
	}
	return post, account, nil
}

// ToPost builds the post document for a row
func ToPost(rec models.RawRecord) (models.Post, error) {
	id, err := required(rec, FieldTweetID)
	if err != nil {
		return models.Post{}, err
	}
	userID, err := required(rec, FieldUserID)
	if err != nil {
		return models.Post{}, err
	}
	createdAt, err := parseTime(rec, FieldTweetCreatedTS)
	if err != nil {
		return models.Post{}, err
	}
	extractedAt, err := parseTime(rec, FieldExtractedTS)
	if err != nil {
		return models.Post{}, err
	}

	language := strings.TrimSpace(rec[FieldLanguage])
	if language == "" {
		language = UnknownLanguage
	}

	post := models.Post{
		ID:                    id,
		UserID:                userID,
		Username:              rec[FieldUsername],
		CreatedAt:             createdAt,
		RetweetCount:          ParseCount(rec[FieldRetweetCount]),
		FavoriteCount:         ParseCount(rec[FieldFavoriteCount]),
		Text:                  rec[FieldText],
		Hashtags:              ParseHashtags(rec[FieldHashtags]).OrElse([]string{}),
		Language:              language,
		IsRetweet:             rec[FieldIsRetweet] == trueToken,
		OriginalTweetID:       rec[FieldOriginalTweetID],
		OriginalTweetUserID:   rec[FieldOriginalTweetUserID],
		OriginalTweetUsername: rec[FieldOriginalTweetUsername],
		InReplyToStatusID:     rec[FieldInReplyToStatusID],
		InReplyToUserID:       rec[FieldInReplyToUserID],
		InReplyToScreenName:   rec[FieldInReplyToScreenName],
		IsQuoteStatus:         rec[FieldIsQuoteStatus] == trueToken,
		QuotedStatusID:        rec[FieldQuotedStatusID],
		QuotedStatusUserID:    rec[FieldQuotedStatusUserID],
		QuotedStatusUsername:  rec[FieldQuotedStatusUsername],
		ExtractedAt:           extractedAt,
	}
	if geo, ok := ParseCoordinates(rec[FieldCoordinates]).Get(); ok {
		post.Coordinates = &geo
	}
	return post, nil
}

// ToAccount builds the account document for a row
func ToAccount(rec models.RawRecord) (models.Account, error) {
	id, err := required(rec, FieldUserID)
	if err != nil {
		return models.Account{}, err
	}
	createdAt, err := parseTime(rec, FieldUserCreatedTS)
	if err != nil {
		return models.Account{}, err
	}
	return models.Account{
		ID:          id,
		Username:    rec[FieldUsername],
		Description: rec[FieldAcctDesc],
		Location:    rec[FieldLocation],
		Following:   ParseCount(rec[FieldFollowing]),
		Followers:   ParseCount(rec[FieldFollowers]),
		TotalTweets: ParseCount(rec[FieldTotalTweets]),
		CreatedAt:   createdAt,
	}, nil
}

// ParseHashtags decodes a single-quoted list of hashtags. Elements may be
// plain strings or objects carrying a "text" key.
func ParseHashtags(raw string) Optional[[]string] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return None[[]string]()
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(normalizeQuotes(raw)), &items); err != nil {
		return None[[]string]()
	}

	tags := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			tags = append(tags, s)
			continue
		}
		var obj struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.Text == nil {
			return None[[]string]()
		}
		tags = append(tags, *obj.Text)
	}
	return Some(tags)
}

// ParseCoordinates decodes a single-quoted GeoJSON point
func ParseCoordinates(raw string) Optional[models.GeoPoint] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return None[models.GeoPoint]()
	}
	var obj struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(normalizeQuotes(raw)), &obj); err != nil {
		return None[models.GeoPoint]()
	}
	if obj.Type != pointType || len(obj.Coordinates) != 2 {
		return None[models.GeoPoint]()
	}
	return Some(models.GeoPoint{
		Type:        pointType,
		Coordinates: [2]float64{obj.Coordinates[0], obj.Coordinates[1]},
	})
}

// ParseCount parses a non-negative count. It reads the leading integer of the
// value, so "12.0" yields 12, and falls back to 0 for anything unusable.
func ParseCount(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return clamp(n)
	}

	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	digits := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(raw[:end], 10, 64)
	if err != nil {
		return 0
	}
	return clamp(n)
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func normalizeQuotes(raw string) string {
	return strings.ReplaceAll(raw, "'", `"`)
}

func required(rec models.RawRecord, field string) (string, error) {
	v := strings.TrimSpace(rec[field])
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	return v, nil
}

func parseTime(rec models.RawRecord, field string) (time.Time, error) {
	raw := strings.TrimSpace(rec[field])
	if raw != "" {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q", ErrInvalidTimestamp, field, raw)
}
