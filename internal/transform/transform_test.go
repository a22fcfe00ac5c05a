package transform

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/tweet-ingest/internal/models"
)

func sampleRecord() models.RawRecord {
	return models.RawRecord{
		FieldTweetID:               "1497000000000000001",
		FieldUserID:                "42",
		FieldUsername:              "kyivwatch",
		FieldAcctDesc:              "News from Kyiv",
		FieldLocation:              "Kyiv",
		FieldFollowing:             "120",
		FieldFollowers:             "3400",
		FieldTotalTweets:           "9001",
		FieldUserCreatedTS:         "2015-06-01 10:00:00",
		FieldTweetCreatedTS:        "2022-02-24 00:05:57.000000",
		FieldRetweetCount:          "15",
		FieldText:                  "Stand with Ukraine",
		FieldHashtags:              "[{'text': 'Ukraine', 'indices': [11, 19]}, {'text': 'Kyiv', 'indices': [20, 25]}]",
		FieldLanguage:              "en",
		FieldCoordinates:           "{'type': 'Point', 'coordinates': [30.52, 50.45]}",
		FieldFavoriteCount:         "7",
		FieldIsRetweet:             "true",
		FieldOriginalTweetID:       "1496999999999999999",
		FieldOriginalTweetUserID:   "7",
		FieldOriginalTweetUsername: "origin",
		FieldExtractedTS:           "2022-02-24 12:00:00.123456",
	}
}

func TestTransform(t *testing.T) {
	post, account, err := Transform(sampleRecord())
	require.NoError(t, err)

	assert.Equal(t, "1497000000000000001", post.ID)
	assert.Equal(t, "42", post.UserID)
	assert.Equal(t, "kyivwatch", post.Username)
	assert.Equal(t, time.Date(2022, 2, 24, 0, 5, 57, 0, time.UTC), post.CreatedAt)
	assert.Equal(t, int64(15), post.RetweetCount)
	assert.Equal(t, int64(7), post.FavoriteCount)
	assert.Equal(t, []string{"Ukraine", "Kyiv"}, post.Hashtags)
	assert.Equal(t, "en", post.Language)
	require.NotNil(t, post.Coordinates)
	assert.Equal(t, "Point", post.Coordinates.Type)
	assert.Equal(t, [2]float64{30.52, 50.45}, post.Coordinates.Coordinates)
	assert.True(t, post.IsRetweet)
	assert.Equal(t, "1496999999999999999", post.OriginalTweetID)
	assert.Equal(t, "origin", post.OriginalTweetUsername)
	assert.Equal(t, 123456000, post.ExtractedAt.Nanosecond())

	assert.Equal(t, "42", account.ID)
	assert.Equal(t, "kyivwatch", account.Username)
	assert.Equal(t, "News from Kyiv", account.Description)
	assert.Equal(t, "Kyiv", account.Location)
	assert.Equal(t, int64(120), account.Following)
	assert.Equal(t, int64(3400), account.Followers)
	assert.Equal(t, int64(9001), account.TotalTweets)
	assert.Equal(t, time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC), account.CreatedAt)
}

func TestTransform_OptionalFieldsFallBack(t *testing.T) {
	rec := sampleRecord()
	rec[FieldHashtags] = "[{'text': 'broken'"
	rec[FieldCoordinates] = "{'type': 'Point', 'coordinates': [30.52]}"
	rec[FieldLanguage] = ""
	rec[FieldRetweetCount] = "n/a"
	rec[FieldFavoriteCount] = ""
	rec[FieldIsRetweet] = "True"

	post, _, err := Transform(rec)
	require.NoError(t, err)

	assert.NotNil(t, post.Hashtags)
	assert.Empty(t, post.Hashtags)
	assert.Nil(t, post.Coordinates)
	assert.Equal(t, UnknownLanguage, post.Language)
	assert.Zero(t, post.RetweetCount)
	assert.Zero(t, post.FavoriteCount)
	assert.False(t, post.IsRetweet)
}

func TestTransform_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(models.RawRecord)
		want   error
	}{
		{"missing tweet id", func(r models.RawRecord) { r[FieldTweetID] = "" }, ErrMissingField},
		{"missing user id", func(r models.RawRecord) { delete(r, FieldUserID) }, ErrMissingField},
		{"bad created ts", func(r models.RawRecord) { r[FieldTweetCreatedTS] = "yesterday" }, ErrInvalidTimestamp},
		{"missing extracted ts", func(r models.RawRecord) { r[FieldExtractedTS] = "" }, ErrInvalidTimestamp},
		{"bad account ts", func(r models.RawRecord) { r[FieldUserCreatedTS] = "2015-13-45" }, ErrInvalidTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(rec)
			_, _, err := Transform(rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseHashtags(t *testing.T) {
	tests := []struct {
		raw     string
		want    []string
		present bool
	}{
		{"", nil, false},
		{"[]", []string{}, true},
		{"['Ukraine', 'Russia']", []string{"Ukraine", "Russia"}, true},
		{"[{'text': 'Ukraine', 'indices': [0, 8]}]", []string{"Ukraine"}, true},
		{"[{'indices': [0, 8]}]", nil, false},
		{"not a list", nil, false},
	}
	for _, tt := range tests {
		got, ok := ParseHashtags(tt.raw).Get()
		assert.Equal(t, tt.present, ok, tt.raw)
		if tt.present {
			assert.Equal(t, tt.want, got, tt.raw)
		}
	}
}

func TestParseCoordinates(t *testing.T) {
	geo, ok := ParseCoordinates(`{"type": "Point", "coordinates": [-73.9, 40.7]}`).Get()
	require.True(t, ok)
	assert.Equal(t, [2]float64{-73.9, 40.7}, geo.Coordinates)

	for _, raw := range []string{
		"",
		"{'type': 'Polygon', 'coordinates': [1, 2]}",
		"{'type': 'Point', 'coordinates': [1, 2, 3]}",
		"{'type': 'Point', 'coordinates': ['a', 'b']}",
		"None",
	} {
		_, ok := ParseCoordinates(raw).Get()
		assert.False(t, ok, raw)
	}
}

func TestParseCount(t *testing.T) {
	tests := map[string]int64{
		"":      0,
		"12":    12,
		" 12 ":  12,
		"12.0":  12,
		"3abc":  3,
		"-5":    0,
		"abc":   0,
		"+7":    7,
		"1e3":   1,
		"99999": 99999,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseCount(raw), raw)
	}
}

func TestOptional(t *testing.T) {
	assert.Equal(t, 3, Some(3).OrElse(9))
	assert.Equal(t, 9, None[int]().OrElse(9))
	_, ok := None[string]().Get()
	assert.False(t, ok)
}
