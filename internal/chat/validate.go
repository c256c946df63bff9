package chat

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	MaxContentLength     = 1000
	MaxRoomNameLength    = 50
	MaxDescriptionLength = 200
)

var defaultMediaContent = map[string]string{
	types.MessageTypeGif:   "GIF message",
	types.MessageTypeImage: "Image message",
}

// ValidateContent checks a message body for the given type and returns the
// content to persist. Media messages require an absolute http(s) URL and
// fall back to a placeholder body.
func ValidateContent(msgType, content, mediaUrl string) (string, error) {
	content = strings.TrimSpace(content)

	switch msgType {
	case "", types.MessageTypeText, types.MessageTypeSystem:
		if content == "" {
			return "", fmt.Errorf("%w: message content is required", ErrValidationFailed)
		}
	case types.MessageTypeGif, types.MessageTypeImage:
		if err := validateMediaUrl(mediaUrl); err != nil {
			return "", err
		}
		if content == "" {
			content = defaultMediaContent[msgType]
		}
	default:
		return "", fmt.Errorf("%w: unknown message type %q", ErrValidationFailed, msgType)
	}

	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrValidationFailed, MaxContentLength)
	}

	return content, nil
}

func validateMediaUrl(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: media url must be an absolute url", ErrValidationFailed)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: media url must use http or https", ErrValidationFailed)
	}
	return nil
}

// NormalizeRoomName trims name and enforces the room name rules.
func NormalizeRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: room name is required", ErrValidationFailed)
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return "", fmt.Errorf("%w: room name exceeds %d characters", ErrValidationFailed, MaxRoomNameLength)
	}
	return name, nil
}
