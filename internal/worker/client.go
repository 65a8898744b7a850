package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvana/presetsmith/internal/utils"
)

// Client talks to the external inference worker. One bounded-timeout attempt
// per call, no retained state.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Predict POSTs the decoded WAV as a multipart form ("audio" part, content
// type audio/wav, filename audio.wav) and returns the opaque result bytes.
// A timeout maps to CodeTimeout, any other failure or non-2xx response to
// CodeUnavailable.
func (c *Client) Predict(ctx context.Context, wav []byte) ([]byte, error) {
	const op = "worker.Predict"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	hdr.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to build multipart body", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to build multipart body", err)
	}
	if err := mw.Close(); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to build multipart body", err)
	}

	url := c.baseURL + "/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.WithFields(logrus.Fields{"url": url, "audio_bytes": len(wav)}).Info("dispatching to inference worker")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, utils.E(utils.CodeTimeout, op, "inference worker timed out", err)
		}
		return nil, utils.E(utils.CodeUnavailable, op, "inference worker unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, utils.E(utils.CodeUnavailable, op,
			fmt.Sprintf("inference worker returned %d: %s", resp.StatusCode, string(excerpt)), nil)
	}

	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to read worker response", err)
	}
	return result, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
