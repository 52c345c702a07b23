package bulk

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"batchgen/internal/batch"
	"batchgen/internal/statuslabel"
)

// Columns is the fixed header of bulk sheets.
var Columns = []string{
	"id", "prompt", "image_url", "ratio", "seed", "watermark", "callback_url",
	"translate", "extra", "status", "local_path", "error",
}

// ErrMissingPrompt marks a row without a prompt.
var ErrMissingPrompt = errors.New("bulk: prompt is required")

// RowError reports which line of a sheet could not be parsed.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("bulk: line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ReadCSV parses a sheet. Only the prompt column is mandatory; unknown
// columns are ignored and missing ones read as blank. Blank lines are skipped.
// The status column accepts raw values and the labels of every locale.
func ReadCSV(r io.Reader) ([]batch.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bulk: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}
	if _, ok := index["prompt"]; !ok {
		return nil, fmt.Errorf("bulk: header has no prompt column")
	}

	var rows []batch.Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if blank(record) {
			continue
		}
		row, err := parseRow(get)
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(get func(string) string) (batch.Row, error) {
	row := batch.Row{
		ID: get("id"),
		Input: batch.Input{
			Prompt:      get("prompt"),
			ImageURL:    get("image_url"),
			Ratio:       get("ratio"),
			Watermark:   get("watermark"),
			CallbackURL: get("callback_url"),
			Translate:   batch.ParseTranslateMode(get("translate")),
		},
		LocalPath: get("local_path"),
	}
	row.ErrorCode, row.ErrorMessage = splitError(get("error"))
	if row.Input.Prompt == "" {
		return row, ErrMissingPrompt
	}
	if raw := get("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return row, fmt.Errorf("invalid seed %q", raw)
		}
		row.Input.Seed = &seed
	}
	if raw := get("extra"); raw != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return row, fmt.Errorf("invalid extra: %w", err)
		}
		row.Input.Extra = extra
	}
	if raw := get("status"); raw != "" {
		status, ok := statuslabel.Parse(raw)
		if !ok {
			return row, fmt.Errorf("unknown status %q", raw)
		}
		row.Status = status
	}
	return row, nil
}

// splitError undoes the "CODE: message" form written by formatRow. Text
// without a known code prefix is kept whole as the message.
func splitError(text string) (batch.ErrorCode, string) {
	if code, ok := batch.ParseErrorCode(text); ok {
		return code, ""
	}
	head, msg, found := strings.Cut(text, ":")
	if !found {
		return "", text
	}
	code, ok := batch.ParseErrorCode(head)
	if !ok {
		return "", text
	}
	return code, strings.TrimSpace(msg)
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// LabelFunc renders a status for humans. A nil LabelFunc writes the raw value.
type LabelFunc func(batch.Status) string

// WriteCSV writes rows under the fixed header. The error column carries the
// error code and message of failed rows.
func WriteCSV(w io.Writer, rows []batch.Row, label LabelFunc) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("bulk: write header: %w", err)
	}
	for _, row := range rows {
		record, err := formatRow(row, label)
		if err != nil {
			return fmt.Errorf("bulk: row %s: %w", row.ID, err)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("bulk: write row %s: %w", row.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatRow(row batch.Row, label LabelFunc) ([]string, error) {
	var seed, extra string
	if row.Input.Seed != nil {
		seed = strconv.FormatInt(*row.Input.Seed, 10)
	}
	if len(row.Input.Extra) > 0 {
		raw, err := json.Marshal(row.Input.Extra)
		if err != nil {
			return nil, err
		}
		extra = string(raw)
	}
	status := string(row.Status)
	if label != nil && row.Status != "" {
		status = label(row.Status)
	}
	errText := row.ErrorMessage
	if row.ErrorCode != "" {
		errText = string(row.ErrorCode)
		if row.ErrorMessage != "" {
			errText += ": " + row.ErrorMessage
		}
	}
	return []string{
		row.ID,
		row.Input.Prompt,
		row.Input.ImageURL,
		row.Input.Ratio,
		seed,
		row.Input.Watermark,
		row.Input.CallbackURL,
		string(row.Input.Translate),
		extra,
		status,
		row.LocalPath,
		errText,
	}, nil
}
