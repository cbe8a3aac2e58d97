package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

const maxResponseBytes = 1 << 20

// HTTPClient posts clips to a scoring service as multipart/form-data with a
// "video" file part and a "questionIndex" field, and expects
// {"score": n, "transcript": "..."} back.
type HTTPClient struct {
	url  string
	http *http.Client
}

type scoreResponse struct {
	Score      *float64 `json:"score"`
	Transcript string   `json:"transcript"`
	Error      string   `json:"error"`
}

// NewHTTPClient creates a client for the scoring endpoint at url. Timeouts are
// taken from the request context.
func NewHTTPClient(url string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{url: url, http: hc}
}

// Score streams clip to the service and returns the sub-score.
func (c *HTTPClient) Score(ctx context.Context, clip io.Reader, filename string, questionIndex int) (float64, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeScoreForm(mw, clip, filename, questionIndex))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		pr.Close()
		return 0, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Unblock the writer goroutine if the transport never drained the body.
		pr.CloseWithError(err)
		if e := unavailableIfTimeout(ctx, err); e != nil {
			return 0, e
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var parsed scoreResponse
	decodeErr := json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return 0, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, errorText(parsed, body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, errorText(parsed, body))
	}

	if decodeErr != nil {
		return 0, fmt.Errorf("%w: parse response: %v", ErrRejected, decodeErr)
	}
	if parsed.Score == nil {
		return 0, fmt.Errorf("%w: response has no score", ErrRejected)
	}
	if err := validScore(*parsed.Score); err != nil {
		return 0, err
	}

	slog.Debug("scored clip", "question_index", questionIndex, "score", *parsed.Score,
		"transcript_len", len(parsed.Transcript))
	return *parsed.Score, nil
}

func writeScoreForm(mw *multipart.Writer, clip io.Reader, filename string, questionIndex int) error {
	part, err := mw.CreateFormFile("video", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, clip); err != nil {
		return err
	}
	if err := mw.WriteField("questionIndex", strconv.Itoa(questionIndex)); err != nil {
		return err
	}
	return mw.Close()
}

func errorText(parsed scoreResponse, body []byte) string {
	if parsed.Error != "" {
		return parsed.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
