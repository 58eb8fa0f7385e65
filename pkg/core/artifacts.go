// Package core provides the shared test-outcome and error model for mobile-harness.
package core

// Attachment is a named payload handed to the report sink.
type Attachment struct {
	Name        string `json:"name"`        // Label shown in the report
	ContentType string `json:"contentType"` // MIME type: image/png, text/plain
	Path        string `json:"path"`        // File path once persisted
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot = "Screenshot"
	AttachmentFailure    = "Failure Reason"
	AttachmentEnv        = "Environment"
	AttachmentDevice     = "Device"
	AttachmentPlatform   = "Platform"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewTextAttachment creates a plain text attachment
func NewTextAttachment(name, text string) Attachment {
	return Attachment{
		Name:        name,
		ContentType: ContentTypeText,
		Body:        []byte(text),
	}
}

// ArtifactConfig controls when and what artifacts are captured
type ArtifactConfig struct {
	CaptureOnFailure bool `yaml:"captureOnFailure" json:"captureOnFailure"` // Default: true
	CaptureOnSuccess bool `yaml:"captureOnSuccess" json:"captureOnSuccess"` // Default: false

	// PersistScreenshots writes failure screenshots to the artifact store
	// in addition to attaching them to the report.
	PersistScreenshots bool `yaml:"persistScreenshots" json:"persistScreenshots"` // Default: true
}

// DefaultArtifactConfig returns the defaults for artifact capture
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnFailure:   true,
		CaptureOnSuccess:   false,
		PersistScreenshots: true,
	}
}

// ShouldCapture returns true if artifacts should be captured for the given status
func (c ArtifactConfig) ShouldCapture(status TestStatus) bool {
	switch status {
	case StatusFailed, StatusErrored:
		return c.CaptureOnFailure
	case StatusPassed:
		return c.CaptureOnSuccess
	default:
		return false
	}
}
