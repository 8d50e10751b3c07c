package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// Version identifies the processor build; it is echoed in every report as
// processor_version and in the outbound User-Agent.
const Version = "1.2.0"

// HTTP headers and content types
const (
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-ID"
	ContentTypeJSON  = "application/json"
	UserAgent        = "clipline/" + Version
	SignaturePrefix  = "sha256="
)

// Report status strings
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Object storage layout
const (
	StorageCategory   = "videos"
	ArtifactVideo     = "video"
	ArtifactThumbnail = "thumbnail"
	MetadataFileName  = "metadata.json"
)

// MIME types
const (
	MimeVideoMP4  = "video/mp4"
	MimeImageJPEG = "image/jpeg"
	MimeImagePNG  = "image/png"
	MimeImageWebP = "image/webp"
)

// Process exit codes. Config errors are distinguished from pipeline errors so
// the trigger layer can decide whether a re-dispatch is worthwhile.
const (
	ExitOK       = 0
	ExitPipeline = 1
	ExitConfig   = 2
)
