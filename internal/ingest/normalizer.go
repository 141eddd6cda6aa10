package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/textdesk/textdesk/pkg/logging"
)

// PhotoPlaceholder is stored as the body when a message carried only an image.
const PhotoPlaceholder = "[Photo]"

// RawPart is one transport-layer fragment of an inbound message: either a
// text fragment or a binary attachment with a declared media type.
type RawPart struct {
	Sender      string
	ContentType string
	Text        string
	Data        []byte
	ReceivedAt  time.Time
}

// InboundMessage is the single logical message produced from a part set.
type InboundMessage struct {
	Sender    string
	Text      string
	PhotoPath string
	Timestamp time.Time
}

// ErrEmptyPayload indicates no part could be parsed and no image was
// extracted; the receipt is dropped rather than fabricating a message.
var ErrEmptyPayload = errors.New("ingest: no usable parts in payload")

// ImageSaver persists attachment bytes and returns a reference. The media
// store implements it.
type ImageSaver interface {
	SaveImage(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Normalizer folds an ordered sequence of raw transport parts into exactly
// one logical inbound message.
type Normalizer struct {
	media  ImageSaver
	logger *logging.Logger
}

func NewNormalizer(media ImageSaver, logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Normalizer{media: media, logger: logger}
}

// Normalize concatenates text parts in delivery order and extracts image
// parts through the media store. Sender and timestamp come from the first
// part. When several images arrive, the last extracted reference wins; a
// message with an image but no text gets the photo placeholder body.
func (n *Normalizer) Normalize(ctx context.Context, parts []RawPart) (*InboundMessage, error) {
	if len(parts) == 0 {
		return nil, ErrEmptyPayload
	}

	var body strings.Builder
	var photoPath string

	for _, part := range parts {
		contentType := strings.ToLower(strings.TrimSpace(part.ContentType))
		switch {
		case strings.HasPrefix(contentType, "image/"):
			if len(part.Data) == 0 {
				n.logger.Warn("image part without data", "content_type", contentType)
				continue
			}
			if n.media == nil {
				n.logger.Warn("image part dropped, media store not configured")
				continue
			}
			key, err := n.media.SaveImage(ctx, part.Data, contentType)
			if err != nil {
				n.logger.Error("failed to store image part", "error", err)
				continue
			}
			photoPath = key
		case contentType == "" || contentType == "text/plain":
			body.WriteString(part.Text)
		default:
			n.logger.Debug("skipping part", "content_type", contentType)
		}
	}

	text := body.String()
	if text == "" && photoPath == "" {
		return nil, ErrEmptyPayload
	}
	if text == "" {
		text = PhotoPlaceholder
	}

	first := parts[0]
	ts := first.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return &InboundMessage{
		Sender:    first.Sender,
		Text:      text,
		PhotoPath: photoPath,
		Timestamp: ts,
	}, nil
}
