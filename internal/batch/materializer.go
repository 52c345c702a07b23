package batch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ArtifactStore is the durable destination for fetched artifacts.
// *storage.FileStore implements it.
type ArtifactStore interface {
	WriteStream(ctx context.Context, key string, r io.Reader) (string, error)
	Path(key string) string
}

// MaterializerOptions configures a Materializer.
type MaterializerOptions struct {
	Concurrency int
	Clock       func() time.Time
	Logger      *zerolog.Logger
}

// Materializer downloads the artifacts of succeeded jobs into the store.
type Materializer struct {
	ledger      *Ledger
	fetcher     Fetcher
	store       ArtifactStore
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// NewMaterializer wires a materializer onto ledger.
func NewMaterializer(ledger *Ledger, fetcher Fetcher, store ArtifactStore, opts MaterializerOptions) *Materializer {
	m := &Materializer{
		ledger:      ledger,
		fetcher:     fetcher,
		store:       store,
		concurrency: opts.Concurrency,
		now:         opts.Clock,
		logger:      zerolog.Nop(),
	}
	if m.concurrency <= 0 {
		m.concurrency = 1
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.Logger != nil {
		m.logger = *opts.Logger
	}
	return m
}

// NeedsMaterializing reports whether rec has a remote result but no local copy.
func NeedsMaterializing(rec Record) bool {
	return rec.Status == StatusSucceeded && rec.ResultURL != "" && rec.LocalPath == ""
}

// MaterializeAll fetches every outstanding artifact. Individual failures are
// recorded on the job as DOWNLOAD_ERROR and do not stop the others.
func (m *Materializer) MaterializeAll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, rec := range m.ledger.ListByStatus(StatusSucceeded) {
		if !NeedsMaterializing(rec) {
			continue
		}
		g.Go(func() error {
			_ = m.Materialize(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Materialize fetches the artifact of one succeeded job and records where it
// landed. On failure the job is downgraded to failed with DOWNLOAD_ERROR.
func (m *Materializer) Materialize(ctx context.Context, rec Record) error {
	log := m.logger.With().Str("job_id", rec.ID).Str("result_url", rec.ResultURL).Logger()
	key, fileName, err := m.fetch(ctx, rec)
	if err != nil {
		log.Warn().Err(err).Msg("batch: artifact download failed")
		_, _ = m.ledger.Update(rec.ID, func(r *Record) error {
			if r.Status != StatusSucceeded || r.LocalPath != "" {
				return errStale
			}
			r.Status = StatusFailed
			r.ErrorCode = CodeDownloadError
			r.ErrorMessage = err.Error()
			return nil
		})
		return err
	}
	localPath := m.store.Path(key)
	_, err = m.ledger.Update(rec.ID, func(r *Record) error {
		if r.Status != StatusSucceeded {
			return errStale
		}
		r.LocalPath = localPath
		r.FileName = fileName
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("local_path", localPath).Msg("batch: artifact stored")
	return nil
}

func (m *Materializer) fetch(ctx context.Context, rec Record) (string, string, error) {
	body, contentType, err := m.fetcher.Fetch(ctx, rec.ResultURL)
	if err != nil {
		return "", "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer body.Close()

	fileName := ArtifactFileName(rec, contentType)
	key := path.Join("generated", m.now().UTC().Format("2006-01-02"), fileName)
	saved, err := m.store.WriteStream(ctx, key, body)
	if err != nil {
		return "", "", fmt.Errorf("store artifact: %w", err)
	}
	return saved, fileName, nil
}

// ArtifactFileName derives a collision-free, deterministic file name from the
// job id, a slug of the prompt and the remote file name.
func ArtifactFileName(rec Record, contentType string) string {
	remote := remoteBaseName(rec.ResultURL)
	ext := strings.ToLower(path.Ext(remote))
	stem := strings.TrimSuffix(remote, path.Ext(remote))
	if ext == "" || len(ext) > 6 {
		ext = extensionForMIME(contentType)
	}
	if ext == "" {
		ext = ".png"
	}
	parts := []string{slugify(rec.ID, 36)}
	if slug := slugify(rec.Input.Prompt, 40); slug != "" {
		parts = append(parts, slug)
	}
	if slug := slugify(stem, 40); slug != "" {
		parts = append(parts, slug)
	}
	return strings.Join(parts, "_") + ext
}

func remoteBaseName(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func extensionForMIME(contentType string) string {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		media = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch media {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}

func slugify(s string, limit int) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= limit {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
