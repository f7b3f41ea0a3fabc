package emotion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// TimestampLayout is the wall-clock format used in the journal.
const TimestampLayout = "2006-01-02 15:04:05"

var journalHeader = []string{"Timestamp", "Emotion", "Confidence", "Stress Level", "Notes"}

// Record is one row of the emotion journal.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Emotion     Emotion   `json:"emotion"`
	Confidence  float64   `json:"confidence"`
	StressLevel int       `json:"stress_level"`
	Notes       string    `json:"notes"`
}

// Journal is an append-only CSV log of detections. Rows are never
// rewritten; each append is a single write followed by a sync.
type Journal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// OpenJournal returns a journal backed by path, creating the file with its
// header row when it does not exist yet.
func OpenJournal(path string) (*Journal, error) {
	j := &Journal{path: path, now: time.Now}
	if err := j.Init(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the file backing the journal.
func (j *Journal) Path() string {
	return j.path
}

// Init writes the header row if the journal file is absent. Existing files
// are left untouched.
func (j *Journal) Init() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating journal directory: %w", err)
		}
	}

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating journal: %w", err)
	}
	defer f.Close()

	row, err := encodeRow(journalHeader)
	if err != nil {
		return err
	}
	if _, err := f.Write(row); err != nil {
		return fmt.Errorf("writing journal header: %w", err)
	}
	return f.Sync()
}

// LogEmotion appends a record for a detected emotion, deriving its stress
// level and advisory note.
func (j *Journal) LogEmotion(e Emotion, confidence float64) (Record, error) {
	level := StressLevel(e)
	rec := Record{
		Timestamp:   j.now().Truncate(time.Second),
		Emotion:     e,
		Confidence:  confidence,
		StressLevel: level,
		Notes:       StressNotes(level),
	}
	return rec, j.Append(rec)
}

// Append writes rec as a single CSV row.
func (j *Journal) Append(rec Record) error {
	row, err := encodeRow([]string{
		rec.Timestamp.Format(TimestampLayout),
		string(rec.Emotion),
		strconv.FormatFloat(rec.Confidence, 'f', -1, 64),
		strconv.Itoa(rec.StressLevel),
		rec.Notes,
	})
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// a journal removed underneath us gets its header back
	if _, err := os.Stat(j.path); errors.Is(err, fs.ErrNotExist) {
		header, err := encodeRow(journalHeader)
		if err != nil {
			return err
		}
		row = append(header, row...)
	}

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(row); err != nil {
		return fmt.Errorf("appending journal record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing journal: %w", err)
	}
	return nil
}

// Records reads every row of the journal in file order. A missing file
// yields no records.
func (j *Journal) Records() ([]Record, error) {
	j.mu.Lock()
	data, err := os.ReadFile(j.path)
	j.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(journalHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing journal: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if i == 0 && row[0] == journalHeader[0] {
			continue
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("journal line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Recent returns up to limit of the newest records, oldest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	records, err := j.Records()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func parseRow(row []string) (Record, error) {
	ts, err := time.ParseInLocation(TimestampLayout, row[0], time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}
	conf, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return Record{}, fmt.Errorf("confidence: %w", err)
	}
	level, err := strconv.Atoi(row[3])
	if err != nil {
		return Record{}, fmt.Errorf("stress level: %w", err)
	}
	return Record{
		Timestamp:   ts,
		Emotion:     Emotion(row[1]),
		Confidence:  conf,
		StressLevel: level,
		Notes:       row[4],
	}, nil
}

func encodeRow(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, fmt.Errorf("encoding journal row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encoding journal row: %w", err)
	}
	return buf.Bytes(), nil
}
