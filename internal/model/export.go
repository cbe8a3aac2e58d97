package model

import "time"

// ScoreExport is the top-level JSON structure for score export.
type ScoreExport struct {
	ExportedAt     time.Time    `json:"exported_at"`
	TotalQuestions int          `json:"total_questions"`
	Results        []UserResult `json:"results"`
}

// UserResult holds one account's final interview score for export.
type UserResult struct {
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	Score     *float64  `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}
