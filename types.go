package main

// Close reason sent with a policy-violation close frame when a connection
// names a session that is not authorized.
const CloseReasonUnauthorized = "authorize by uploading first"

// Text notices sent over the WebSocket in place of an answer.
const (
	NoticeRateLimited   = "Rate limit exceeded. Please wait before asking another question."
	NoticeEmptyQuestion = "Please send a non-empty question."
	NoticeQueryFailed   = "Sorry, an error occurred while answering your question. Please try again."
	NoticeIngestFailed  = "Your documents could not be processed, so questions cannot be answered from them."
	NoticeTextOnly      = "Please send questions as text messages."
)

// Upload response messages.
const (
	MsgNoFilesUploaded = "No files were successfully uploaded"
	MsgFilesRequired   = "field required: files"
	MsgUploadLimited   = "Too many upload requests. Please try again later."
	MsgUploadTooLarge  = "Upload request is too large"
)

// ErrorKind classifies a per-file upload failure.
type ErrorKind int

const (
	// KindValidation covers a missing filename, oversize, or wrong type.
	KindValidation ErrorKind = iota + 1
	// KindStorage covers blob or record write failures.
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// FileError is the failure outcome for one file of an upload batch.
type FileError struct {
	Filename string
	Kind     ErrorKind
	Reason   string
}

func (e *FileError) Error() string {
	return e.Filename + ": " + e.Reason
}

// UploadedFile is one accepted file in an upload response.
type UploadedFile struct {
	OriginalName string `json:"original_name"`
	SavedName    string `json:"saved_name"`
}

// FileErrorBody is one rejected file in an upload response.
type FileErrorBody struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadResponse is returned when at least one file was accepted.
type UploadResponse struct {
	Files     []UploadedFile  `json:"files"`
	Errors    []FileErrorBody `json:"errors,omitempty"`
	SessionID string          `json:"session_id"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Message string          `json:"message"`
	Errors  []FileErrorBody `json:"errors,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Sessions  int    `json:"sessions"`
	Connected int    `json:"connected"`
	Cleanups  int64  `json:"cleanups"`
	Redis     string `json:"redis,omitempty"`
}

func errorBodies(errs []*FileError) []FileErrorBody {
	if len(errs) == 0 {
		return nil
	}
	out := make([]FileErrorBody, len(errs))
	for i, e := range errs {
		out[i] = FileErrorBody{Filename: e.Filename, Error: e.Reason}
	}
	return out
}
