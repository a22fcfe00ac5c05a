package models

import "time"

// RawRecord is one delimited input row keyed by header column name
type RawRecord map[string]string

// GeoPoint is a GeoJSON point as stored on a post
type GeoPoint struct {
	Type        string     `bson:"type" json:"type"`
	Coordinates [2]float64 `bson:"coordinates" json:"coordinates"`
}

// Post represents one ingested tweet, keyed by the source tweet id
type Post struct {
	ID                    string    `bson:"_id" json:"id"`
	UserID                string    `bson:"userid" json:"userid"`
	Username              string    `bson:"username" json:"username"`
	CreatedAt             time.Time `bson:"tweetcreatedts" json:"tweetcreatedts"`
	RetweetCount          int64     `bson:"retweetcount" json:"retweetcount"`
	FavoriteCount         int64     `bson:"favorite_count" json:"favorite_count"`
	Text                  string    `bson:"text" json:"text"`
	Hashtags              []string  `bson:"hashtags" json:"hashtags"`
	Language              string    `bson:"language" json:"language"`
	Coordinates           *GeoPoint `bson:"coordinates" json:"coordinates"`
	IsRetweet             bool      `bson:"is_retweet" json:"is_retweet"`
	OriginalTweetID       string    `bson:"original_tweet_id,omitempty" json:"original_tweet_id,omitempty"`
	OriginalTweetUserID   string    `bson:"original_tweet_userid,omitempty" json:"original_tweet_userid,omitempty"`
	OriginalTweetUsername string    `bson:"original_tweet_username,omitempty" json:"original_tweet_username,omitempty"`
	InReplyToStatusID     string    `bson:"in_reply_to_status_id,omitempty" json:"in_reply_to_status_id,omitempty"`
	InReplyToUserID       string    `bson:"in_reply_to_user_id,omitempty" json:"in_reply_to_user_id,omitempty"`
	InReplyToScreenName   string    `bson:"in_reply_to_screen_name,omitempty" json:"in_reply_to_screen_name,omitempty"`
	IsQuoteStatus         bool      `bson:"is_quote_status" json:"is_quote_status"`
	QuotedStatusID        string    `bson:"quoted_status_id,omitempty" json:"quoted_status_id,omitempty"`
	QuotedStatusUserID    string    `bson:"quoted_status_userid,omitempty" json:"quoted_status_userid,omitempty"`
	QuotedStatusUsername  string    `bson:"quoted_status_username,omitempty" json:"quoted_status_username,omitempty"`
	ExtractedAt           time.Time `bson:"extractedts" json:"extractedts"`
}

// Account represents the authoring user profile, keyed by the source user id
type Account struct {
	ID          string    `bson:"_id" json:"id"`
	Username    string    `bson:"username" json:"username"`
	Description string    `bson:"acctdesc" json:"acctdesc"`
	Location    string    `bson:"location" json:"location"`
	Following   int64     `bson:"following" json:"following"`
	Followers   int64     `bson:"followers" json:"followers"`
	TotalTweets int64     `bson:"totaltweets" json:"totaltweets"`
	CreatedAt   time.Time `bson:"usercreatedts" json:"usercreatedts"`
}

// Batch is the drained content of one dedup buffer
type Batch struct {
	Posts    []Post
	Accounts []Account
}

// Empty reports whether the batch carries nothing to write
func (b Batch) Empty() bool {
	return len(b.Posts) == 0 && len(b.Accounts) == 0
}

// CheckpointStats is the statistics snapshot stored with a checkpoint
type CheckpointStats struct {
	TotalTweets      int64     `bson:"totalTweets" json:"totalTweets"`
	SuccessfulTweets int64     `bson:"successfulTweets" json:"successfulTweets"`
	Users            int64     `bson:"users" json:"users"`
	Errors           int64     `bson:"errors" json:"errors"`
	CompletedAt      time.Time `bson:"completedAt" json:"completedAt"`
}

// CheckpointRecord marks one source file as fully ingested
type CheckpointRecord struct {
	Filename    string          `bson:"filename" json:"filename"`
	ProcessedAt time.Time       `bson:"processedAt" json:"processedAt"`
	RunID       string          `bson:"runId,omitempty" json:"runId,omitempty"`
	Stats       CheckpointStats `bson:"stats" json:"stats"`
}

// FileStats tracks the outcome of processing a single file
type FileStats struct {
	Filename         string        `json:"filename"`
	TotalTweets      int64         `json:"totalTweets"`
	SuccessfulTweets int64         `json:"successfulTweets"`
	Users            int64         `json:"users"`
	Errors           int64         `json:"errors"`
	Batches          int64         `json:"batches"`
	Duration         time.Duration `json:"duration"`
}

// Checkpoint converts the file stats into the snapshot persisted in the ledger
func (s FileStats) Checkpoint(completedAt time.Time) CheckpointStats {
	return CheckpointStats{
		TotalTweets:      s.TotalTweets,
		SuccessfulTweets: s.SuccessfulTweets,
		Users:            s.Users,
		Errors:           s.Errors,
		CompletedAt:      completedAt,
	}
}

// FileFailure records a file that could not be fully processed
type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// RunSummary aggregates statistics for one ingestion run
type RunSummary struct {
	RunID            string        `json:"runId"`
	TotalFiles       int           `json:"totalFiles"`
	ProcessedFiles   int           `json:"processedFiles"`
	SkippedFiles     int           `json:"skippedFiles"`
	FailedFiles      int           `json:"failedFiles"`
	TotalTweets      int64         `json:"totalTweets"`
	SuccessfulTweets int64         `json:"successfulTweets"`
	TotalUsers       int64         `json:"totalUsers"`
	TotalErrors      int64         `json:"totalErrors"`
	Failures         []FileFailure `json:"failures,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Add folds one processed file into the run totals
func (r *RunSummary) Add(s FileStats) {
	r.ProcessedFiles++
	r.TotalTweets += s.TotalTweets
	r.SuccessfulTweets += s.SuccessfulTweets
	r.TotalUsers += s.Users
	r.TotalErrors += s.Errors
}

// Fail records a file-level failure; it counts as one error in the totals
func (r *RunSummary) Fail(filename string, err error) {
	r.FailedFiles++
	r.TotalErrors++
	r.Failures = append(r.Failures, FileFailure{Filename: filename, Error: err.Error()})
}

// ErrorRate returns errors as a percentage of tweets seen
func (r RunSummary) ErrorRate() float64 {
	if r.TotalTweets == 0 {
		return 0
	}
	return float64(r.TotalErrors) / float64(r.TotalTweets) * 100
}
