package storage

import (
	"net/url"
	"strings"
)

// PresetKey is the blob key of a preset's source image.
func PresetKey(presetID string) string {
	return "presets/" + presetID
}

// SelfieKey is the blob key of an uploaded selfie.
func SelfieKey(ownerID, selfieID, ext string) string {
	return "selfies/" + ownerID + "/" + selfieID + "." + ext
}

// ResultKey is the blob key of a generated result.
func ResultKey(ownerID, resultID, ext string) string {
	return "results/" + ownerID + "/" + resultID + "." + ext
}

// PublicURL builds the public delivery URL for a key.
func PublicURL(baseURL, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + "/files/" + strings.Join(segments, "/")
}
