package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/pavelanni/interviewer/internal/interview"
)

const clipField = "video"

// multipartUpload reads the answer clip from a multipart request. The body is
// streamed part by part unless it was already parsed into r.MultipartForm.
type multipartUpload struct {
	r *http.Request
}

func newMultipartUpload(r *http.Request) *multipartUpload {
	return &multipartUpload{r: r}
}

// Present inspects headers only.
func (u *multipartUpload) Present() bool {
	if u.r.ContentLength == 0 {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(u.r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func (u *multipartUpload) Open() (io.ReadCloser, string, error) {
	if u.r.MultipartForm != nil {
		f, hdr, err := u.r.FormFile(clipField)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", interview.ErrMissingClip, err)
		}
		return f, hdr.Filename, nil
	}

	mr, err := u.r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", interview.ErrMissingClip, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", interview.ErrMissingClip
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", interview.ErrMissingClip, err)
		}
		if part.FormName() == clipField && part.FileName() != "" {
			return part, part.FileName(), nil
		}
		part.Close()
	}
}
