package storage

import (
	"errors"
	"fmt"
)

// minValidSize rejects truncated downloads; no real event photo is under
// 1000 bytes.
const minValidSize = 1000

var errUnknownFormat = errors.New("buffer does not match a known image format")

// isJPEG checks the JPEG SOI marker (FF D8 FF).
func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

// isPNG checks the PNG signature (89 50 4E 47 0D 0A 1A 0A).
func isPNG(data []byte) bool {
	return len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A
}

// isWebP checks the RIFF/WEBP signature.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50
}

// validateImageBuffer rejects buffers that are trivially small or do not
// carry a JPEG/PNG/WebP signature. A failure here counts as a retryable
// download error, not a final result.
func validateImageBuffer(data []byte) error {
	if len(data) < minValidSize {
		return fmt.Errorf("buffer too small: %d bytes", len(data))
	}
	if !isJPEG(data) && !isPNG(data) && !isWebP(data) {
		return errUnknownFormat
	}
	return nil
}

// ValidateImage reports whether data looks like a usable event photo.
// Same checks the download cache applies per attempt.
func ValidateImage(data []byte) error {
	return validateImageBuffer(data)
}

// DetectContentType returns the MIME type for a validated image buffer.
func DetectContentType(data []byte) string {
	switch {
	case isJPEG(data):
		return "image/jpeg"
	case isPNG(data):
		return "image/png"
	case isWebP(data):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
