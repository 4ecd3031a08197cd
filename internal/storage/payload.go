package storage

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"

	"server/internal/domain"
)

// MaxImageBytes caps decoded upload size.
const MaxImageBytes = 10 << 20

// extByMIME picks the extension forced onto extensionless filenames.
var extByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// DecodeImagePayload accepts either a data URL (data:image/png;base64,…) or a
// bare base64 string, decodes it, and verifies the bytes are an image within
// the size ceiling. The returned content type comes from sniffing the decoded
// bytes, not from the caller's declaration.
func DecodeImagePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", fmt.Errorf("%w: empty image payload", domain.ErrValidation)
	}

	encoded := payload
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, "", fmt.Errorf("%w: malformed data url", domain.ErrValidation)
		}
		meta := payload[len("data:"):idx]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("%w: data url is not base64", domain.ErrValidation)
		}
		if declared := strings.TrimSuffix(meta, ";base64"); declared != "" && !strings.HasPrefix(declared, "image/") {
			return nil, "", fmt.Errorf("%w: declared type %q is not an image", domain.ErrValidation, declared)
		}
		encoded = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid base64 payload", domain.ErrValidation)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image payload", domain.ErrValidation)
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", domain.ErrValidation, MaxImageBytes)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: payload is %s, not an image", domain.ErrValidation, contentType)
	}

	return data, contentType, nil
}

// IsReference reports whether the value looks like an already-persisted
// storage reference. The check is purely syntactic and collides with inline
// data for formats whose base64 starts with '/' (JPEG encodes to "/9j/…"):
// callers must attempt DecodeImagePayload first and consult IsReference only
// for values that are not decodable image data.
func IsReference(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "/")
}

// SanitizeFilename strips path components and unsafe characters, and forces
// an extension matching the content type when the name has none.
func SanitizeFilename(name, contentType string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name = strings.Trim(b.String(), ".")
	if name == "" {
		name = "image"
	}

	if path.Ext(name) == "" {
		ext, ok := extByMIME[contentType]
		if !ok {
			ext = ".png"
		}
		name += ext
	}
	return name
}
