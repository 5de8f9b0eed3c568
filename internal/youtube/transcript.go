package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/videodigest/internal/provider"
)

const (
	defaultWatchURL    = "https://www.youtube.com/watch?v="
	playerResponseMark = "ytInitialPlayerResponse = "
	userAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

type timedText struct {
	Lines []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

// TranscriptFetcher reads native caption tracks from the watch page.
type TranscriptFetcher struct {
	WatchURL  string
	Languages []string
	client    *http.Client
	logger    *slog.Logger
}

// NewTranscriptFetcher creates a fetcher preferring tracks in languages.
func NewTranscriptFetcher(languages []string, logger *slog.Logger) *TranscriptFetcher {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	return &TranscriptFetcher{
		WatchURL:  defaultWatchURL,
		Languages: languages,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Transcript implements provider.TranscriptProvider. A video without a
// usable caption track returns provider.ErrNotAvailable.
func (f *TranscriptFetcher) Transcript(ctx context.Context, videoID string) (string, error) {
	page, err := f.fetch(ctx, f.WatchURL+videoID, 6*1024*1024)
	if err != nil {
		return "", fmt.Errorf("watch page: %w", err)
	}

	idx := bytes.Index(page, []byte(playerResponseMark))
	if idx < 0 {
		return "", fmt.Errorf("video %s: %w: no player response", videoID, provider.ErrNotAvailable)
	}
	raw := extractJSON(page[idx+len(playerResponseMark):])
	if raw == nil {
		return "", fmt.Errorf("video %s: %w: truncated player response", videoID, provider.ErrMalformedResponse)
	}

	var player playerResponse
	if err := json.Unmarshal(raw, &player); err != nil {
		return "", fmt.Errorf("video %s: %w: %v", videoID, provider.ErrMalformedResponse, err)
	}
	if player.Captions == nil || len(player.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks) == 0 {
		reason := "no caption tracks"
		if player.PlayabilityStatus != nil && player.PlayabilityStatus.Reason != "" {
			reason = player.PlayabilityStatus.Reason
		}
		return "", fmt.Errorf("video %s: %w: %s", videoID, provider.ErrNotAvailable, reason)
	}

	track, ok := pickBestTrack(player.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks, f.Languages)
	if !ok {
		return "", fmt.Errorf("video %s: %w: every track needs a browser token", videoID, provider.ErrNotAvailable)
	}

	xmlBody, err := f.fetch(ctx, track.BaseURL, 2*1024*1024)
	if err != nil {
		return "", fmt.Errorf("timedtext: %w", err)
	}
	text, err := parseTimedText(xmlBody)
	if err != nil {
		return "", fmt.Errorf("video %s: %w", videoID, err)
	}
	if text == "" {
		return "", fmt.Errorf("video %s: %w: empty caption track", videoID, provider.ErrNotAvailable)
	}
	f.logger.Debug("transcript fetched",
		slog.String("video_id", videoID), slog.String("lang", track.LanguageCode), slog.Int("chars", len(text)))
	return text, nil
}

func (f *TranscriptFetcher) fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.Transient("transcript", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, provider.ErrNotAvailable
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, provider.Transient("transcript", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", provider.ErrRejected, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, provider.Transient("transcript", err)
	}
	return body, nil
}

func parseTimedText(body []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("%w: timedtext: %v", provider.ErrMalformedResponse, err)
	}
	var sb strings.Builder
	for _, line := range tt.Lines {
		text := cleanCaption(line.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// needsPoToken reports whether a track URL only works inside a browser.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first usable one.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// extractJSON returns the balanced JSON object at the start of b.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
