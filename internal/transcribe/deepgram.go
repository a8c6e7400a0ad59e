// Package transcribe sends local media to the Deepgram prerecorded
// audio API and returns plain transcript text.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"

	// Provider-side processing of long recordings can take minutes.
	requestTimeout = 10 * time.Minute
)

// Deepgram is an HTTP client for the /v1/listen endpoint.
type Deepgram struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	log     zerolog.Logger
}

// NewDeepgram creates a client authenticated with the given API key.
func NewDeepgram(apiKey string, log zerolog.Logger) *Deepgram {
	return &Deepgram{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// listenResponse covers the fields we read from the provider reply.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Paragraphs struct {
					Transcript string `json:"transcript"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type listenError struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// Transcribe uploads the file and returns the transcript, preferring
// the paragraph-formatted text. Video containers are reduced to a
// mono 16 kHz wav first when ffmpeg is available, which shrinks the
// upload from GB to MB.
func (d *Deepgram) Transcribe(ctx context.Context, sourcePath, language string, onStatus func(string)) (string, error) {
	notify := func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	}

	uploadPath := sourcePath
	if !IsAudioFile(sourcePath) && HasFFmpeg() {
		notify("Extracting audio track (ffmpeg)...")
		tmpDir, err := os.MkdirTemp("", "batchscribe_")
		if err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		wavPath := filepath.Join(tmpDir, "audio.wav")
		if err := ExtractAudio(ctx, sourcePath, wavPath); err != nil {
			return "", fmt.Errorf("extract audio: %w", err)
		}
		uploadPath = wavPath
		notify(fmt.Sprintf("Audio extracted: %.1f MB", fileSizeMB(wavPath)))
	} else if !IsAudioFile(sourcePath) {
		notify(fmt.Sprintf("ffmpeg not found - sending raw video (%.0f MB)", fileSizeMB(sourcePath)))
	} else {
		notify(fmt.Sprintf("Sending audio file (%.1f MB)...", fileSizeMB(sourcePath)))
	}

	file, err := os.Open(uploadPath)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat media: %w", err)
	}

	notify("Uploading to Deepgram...")

	query := url.Values{}
	query.Set("model", d.model)
	query.Set("language", language)
	query.Set("smart_format", "true")
	query.Set("paragraphs", "true")
	query.Set("diarize", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/listen?%s", d.baseURL, query.Encode()), file)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", contentTypeFor(uploadPath))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("deepgram authentication failed (HTTP %d): %s", resp.StatusCode, errMessage(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("deepgram quota exceeded (HTTP %d): %s", resp.StatusCode, errMessage(body))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("deepgram returned HTTP %d: %s", resp.StatusCode, errMessage(body))
	}

	var parsed listenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("deepgram returned no transcript")
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	if alt.Paragraphs.Transcript != "" {
		return alt.Paragraphs.Transcript, nil
	}
	d.log.Debug().Str("file", filepath.Base(sourcePath)).Msg("no paragraph transcript, using raw alternative")
	return alt.Transcript, nil
}

func errMessage(body []byte) string {
	var e listenError
	if json.Unmarshal(body, &e) == nil && e.ErrMsg != "" {
		return e.ErrMsg
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

func fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1 << 20)
}
