package model

import "time"

type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionPublished QuestionStatus = "published"
)

// PendingQuestion is a buyer question with its drafted answer, waiting for
// the seller. QuestionID is the marketplace id and is globally unique.
type PendingQuestion struct {
	ID           string         `json:"id"`
	UserID       string         `json:"-"`
	QuestionID   string         `json:"question_id"`
	ItemID       string         `json:"item_id"`
	ItemTitle    string         `json:"item_title"`
	QuestionText string         `json:"question_text"`
	DraftAnswer  string         `json:"draft_answer"`
	Status       QuestionStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
}

// QuestionFeedback pairs the drafted answer with the text the seller
// actually published. Rows are append-only.
type QuestionFeedback struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	QuestionID   string    `json:"question_id"`
	QuestionText string    `json:"question_text"`
	DraftAnswer  string    `json:"draft_answer"`
	FinalAnswer  string    `json:"final_answer"`
	CreatedAt    time.Time `json:"created_at"`
}
