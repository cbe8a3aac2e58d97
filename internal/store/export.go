package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

// ExportScores builds export-ready results for every account.
func (s *Store) ExportScores(ctx context.Context, totalQuestions int) (model.ScoreExport, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return model.ScoreExport{}, fmt.Errorf("list users: %w", err)
	}

	results := make([]model.UserResult, 0, len(users))
	for _, u := range users {
		results = append(results, model.UserResult{
			Email:     u.Email,
			Verified:  u.Verified,
			Score:     u.Score,
			CreatedAt: u.CreatedAt,
		})
	}

	return model.ScoreExport{
		ExportedAt:     time.Now().UTC(),
		TotalQuestions: totalQuestions,
		Results:        results,
	}, nil
}
