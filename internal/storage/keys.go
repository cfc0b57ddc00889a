package storage

import "fmt"

// Object key layout. Originals keep their extension; derivatives are
// always JPEG.

func OriginalKey(eventID, photoID, ext string) string {
	return fmt.Sprintf("events/%s/originals/%s%s", eventID, photoID, ext)
}

func ThumbnailKey(eventID, photoID string) string {
	return fmt.Sprintf("events/%s/thumbnails/%s.jpg", eventID, photoID)
}

func WatermarkKey(eventID, photoID string) string {
	return fmt.Sprintf("events/%s/watermarks/%s.jpg", eventID, photoID)
}
