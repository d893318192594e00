package notify

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/resilience"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// DefaultTelegramAPI is the Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram sends videos through the Bot API sendVideo method.
type Telegram struct {
	baseURL string
	token   string
	chat    string
	client  *http.Client
}

// NewTelegram creates a Telegram notifier. baseURL may be empty.
func NewTelegram(baseURL, token, chat string, client *http.Client) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{baseURL: strings.TrimRight(baseURL, "/"), token: token, chat: chat, client: client}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Notify uploads r.VideoPath with r's caption.
func (t *Telegram) Notify(ctx context.Context, r Result) error {
	ctx, span := trace.StartSpan(ctx, "telegram_send_video")
	defer span.End()
	span.SetAttr("game_id", r.GameID)

	f, err := os.Open(r.VideoPath)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeNotFound, "open %s", r.VideoPath)
	}
	defer f.Close()

	// stream the multipart body so large videos are not held in memory
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeVideoForm(mw, t.chat, r.Caption(), f))
	}()

	url := t.baseURL + "/bot" + t.token + "/sendVideo"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return apperrors.Wrap(err, apperrors.CodeInternal, "build sendVideo request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		pr.Close()
		span.SetAttr("error", err.Error())
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "sendVideo cancelled")
		}
		// the token is part of the URL; keep it out of logs
		return apperrors.New(apperrors.CodeUnavailable, "sendVideo request failed: "+redact(err.Error(), t.token))
	}
	defer resp.Body.Close()

	var body telegramResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
	span.SetAttr("status", resp.StatusCode)

	if resp.StatusCode == http.StatusOK && body.OK {
		trace.Logger(ctx).Info("video delivered", "chat", t.chat, "span", span)
		return nil
	}
	return telegramError(resp.StatusCode, body)
}

func writeVideoForm(mw *multipart.Writer, chat, caption string, video *os.File) error {
	if err := mw.WriteField("chat_id", chat); err != nil {
		return err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return err
	}
	if err := mw.WriteField("supports_streaming", "true"); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("video", filepath.Base(video.Name()))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, video); err != nil {
		return err
	}
	return mw.Close()
}

func telegramError(status int, body telegramResponse) error {
	desc := body.Description
	if desc == "" {
		desc = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		e := apperrors.New(apperrors.CodeNotifyRateLimited, desc)
		if body.Parameters.RetryAfter > 0 {
			e = e.WithMetadata(resilience.RetryAfterKey, strconv.Itoa(body.Parameters.RetryAfter))
		}
		return e
	case status >= 500:
		return apperrors.New(apperrors.CodeNotify, desc).WithMetadata("status", strconv.Itoa(status))
	default:
		return apperrors.New(apperrors.CodeInvalidArgument, desc).WithMetadata("status", strconv.Itoa(status))
	}
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<token>")
}
