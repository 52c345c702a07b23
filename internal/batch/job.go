package batch

import (
	"errors"
	"strings"
	"time"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the engine never moves a job out of s on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimeout, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSubmitted:
		return 1
	case StatusRunning:
		return 2
	default:
		return 3
	}
}

// ParseStatus maps free-form text onto a Status.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusPending, StatusSubmitted, StatusRunning, StatusSucceeded, StatusFailed, StatusTimeout, StatusCanceled:
		return s, true
	default:
		return "", false
	}
}

// ErrorCode classifies why a job failed.
type ErrorCode string

const (
	CodeSubmitError   ErrorCode = "SUBMIT_ERROR"
	CodeRateLimit     ErrorCode = "RATE_LIMIT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeDownloadError ErrorCode = "DOWNLOAD_ERROR"
)

// ParseErrorCode recognises the codes above, case-insensitively.
func ParseErrorCode(v string) (ErrorCode, bool) {
	c := ErrorCode(strings.ToUpper(strings.TrimSpace(v)))
	switch c {
	case CodeSubmitError, CodeRateLimit, CodeProviderError, CodeTimeout, CodeDownloadError:
		return c, true
	default:
		return "", false
	}
}

// Retryable reports whether the submitter may pick a failed job with this
// code up again.
func (c ErrorCode) Retryable() bool {
	return c == CodeSubmitError || c == CodeRateLimit
}

// TranslateMode controls provider-side prompt localization.
type TranslateMode string

const (
	TranslateAuto TranslateMode = "auto"
	TranslateOn   TranslateMode = "on"
	TranslateOff  TranslateMode = "off"
)

// ParseTranslateMode accepts the spellings found in bulk sheets.
func ParseTranslateMode(v string) TranslateMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "yes", "1":
		return TranslateOn
	case "off", "false", "no", "0":
		return TranslateOff
	case "auto":
		return TranslateAuto
	default:
		return ""
	}
}

// Input is the immutable description of one artifact to generate.
type Input struct {
	Prompt      string         `json:"prompt"`
	ImageURL    string         `json:"image_url,omitempty"`
	Ratio       string         `json:"ratio,omitempty"`
	Seed        *int64         `json:"seed,omitempty"`
	Watermark   string         `json:"watermark,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Translate   TranslateMode  `json:"translate,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

func (in Input) clone() Input {
	out := in
	if in.Seed != nil {
		seed := *in.Seed
		out.Seed = &seed
	}
	if in.Extra != nil {
		out.Extra = make(map[string]any, len(in.Extra))
		for k, v := range in.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Record is the mutable unit of work tracked by the Ledger. Records handed
// out by the ledger are copies; mutate them through Ledger.Update.
type Record struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Progress     float64   `json:"progress"`
	Input        Input     `json:"input"`
	RequestID    string    `json:"request_id,omitempty"`
	Credential   string    `json:"credential,omitempty"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Fingerprint  string    `json:"fingerprint"`
	ResultURL    string    `json:"result_url,omitempty"`
	LocalPath    string    `json:"local_path,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func (r Record) clone() Record {
	out := r
	out.Input = r.Input.clone()
	return out
}

// AttemptsLeft reports whether the submitter may try the job again.
func (r Record) AttemptsLeft() bool {
	return r.Attempts < r.MaxAttempts
}

// Row is the bulk import/export shape of a job.
type Row struct {
	ID           string
	Input        Input
	Status       Status
	LocalPath    string
	FileName     string
	ErrorCode    ErrorCode
	ErrorMessage string
}

var (
	ErrUnknownJob         = errors.New("batch: unknown job")
	ErrEmptyID            = errors.New("batch: job id is required")
	ErrInvalidTransition  = errors.New("batch: invalid status transition")
	ErrAttemptsExhausted  = errors.New("batch: attempts exhausted")
	ErrProviderRequired   = errors.New("batch: provider is required")
	ErrCredentialsMissing = errors.New("batch: credential picker is required")
	errMissingStore       = errors.New("batch: fetcher and artifact store are required")

	errStale = errors.New("batch: record moved on")
)
