package model

import (
	"encoding/json"
	"time"
)

// Collection names a quota-bounded record collection.
type Collection string

const (
	// CollectionHistory holds generated results, one partition per profile.
	CollectionHistory Collection = "history"
	// CollectionSelfies holds uploaded selfies, one partition per profile
	// and action.
	CollectionSelfies Collection = "selfies"
)

// Partition scopes a quota bound: one owner and one category. History uses
// an empty category.
type Partition struct {
	OwnerID  string
	Category string
}

func (p Partition) String() string {
	if p.Category == "" {
		return p.OwnerID
	}
	return p.OwnerID + "/" + p.Category
}

// Record is one durable output owned by a profile: a generated result or an
// uploaded selfie. Each record maps 1:1 to a blob.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Category  string    `json:"category,omitempty"`
	Extension string    `json:"extension"`
	BlobKey   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	URL       string    `json:"url,omitempty"`
}

// Partition returns the quota partition the record belongs to.
func (r Record) Partition() Partition {
	return Partition{OwnerID: r.OwnerID, Category: r.Category}
}

// PromptSource identifies which tier produced a cached prompt.
type PromptSource string

const (
	SourceFast      PromptSource = "fast"
	SourceDurable   PromptSource = "durable"
	SourceGenerated PromptSource = "generated"
)

// CachedPrompt is a generated instruction payload for a preset.
type CachedPrompt struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
	Source  PromptSource    `json:"sourceTier"`
}

// ResizeOptions holds delivery-time resize parameters.
type ResizeOptions struct {
	Fit    string `json:"fit"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Safety violation codes reported by the vision-safety check.
const (
	SafetyAdult    = 1001
	SafetyViolence = 1002
	SafetyRacy     = 1003
	SafetyMedical  = 1004
	SafetySpoof    = 1005
)

// Codes from SafetyCodeMin to SafetyCodeMax are safety and vision
// classification outcomes.
const (
	SafetyCodeMin = 1000
	SafetyCodeMax = 1999
)

// IsSafetyCode reports whether code is in the safety band.
func IsSafetyCode(code int) bool {
	return code >= SafetyCodeMin && code <= SafetyCodeMax
}

// SafetyLabel returns a short label for a safety violation code.
func SafetyLabel(code int) string {
	switch code {
	case SafetyAdult:
		return "adult"
	case SafetyViolence:
		return "violence"
	case SafetyRacy:
		return "racy"
	case SafetyMedical:
		return "medical"
	case SafetySpoof:
		return "spoof"
	default:
		return ""
	}
}

// Usage reports the live count of a partition against its cap.
type Usage struct {
	Category string `json:"category,omitempty"`
	Current  int    `json:"current"`
	Allowed  int    `json:"allowed"`
}

// Preset is a source image that transformations are applied against.
type Preset struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
