// ABOUTME: JSONL transcript files: a session header line followed by id/parentId linked entries
// ABOUTME: FileManager opens, creates, appends to and branches transcripts on local disk

package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the header version written to new transcripts.
const Version = 3

// ErrNoLeaf is returned when branching a transcript that has no entries.
var ErrNoLeaf = errors.New("transcript has no leaf entry")

// Header is the first line of every transcript file.
type Header struct {
	Type          string `json:"type"`
	Version       int    `json:"version"`
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Cwd           string `json:"cwd,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`
}

// Entry is one transcript line after the header. Raw is the line as written and
// is copied verbatim when branching.
type Entry struct {
	Type     string
	ID       string
	ParentID string
	Raw      json.RawMessage
}

type entryFields struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	ParentID *string `json:"parentId"`
}

// Transcript is an opened transcript file.
type Transcript struct {
	Path    string
	Header  Header
	Entries []Entry
}

// SessionID returns the id recorded in the header.
func (t *Transcript) SessionID() string {
	return t.Header.ID
}

// LeafID returns the id of the last entry, or "" for an empty transcript.
func (t *Transcript) LeafID() string {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].ID != "" {
			return t.Entries[i].ID
		}
	}
	return ""
}

// Ref names a transcript by session id and file.
type Ref struct {
	SessionID   string
	SessionFile string
}

// FileManager stores transcripts as <Dir>/<sessionId>.jsonl.
type FileManager struct {
	dir    string
	cwd    string
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Options configures a FileManager.
type Options struct {
	// Cwd is recorded in new headers.
	Cwd    string
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// NewFileManager creates a manager rooted at dir.
func NewFileManager(dir string, opts Options) *FileManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FileManager{
		dir:    dir,
		cwd:    opts.Cwd,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger.With("component", "transcript"),
	}
}

// Dir returns the directory new transcripts are created in.
func (m *FileManager) Dir() string {
	return m.dir
}

// PathFor returns the transcript file for sessionID.
func (m *FileManager) PathFor(sessionID string) string {
	return filepath.Join(m.dir, sessionID+".jsonl")
}

// Open reads and parses the transcript at path.
func (m *FileManager) Open(path string) (*Transcript, error) {
	// #nosec G304 -- transcript paths come from the session store.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	t := &Transcript{Path: path}
	sawHeader := false
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !sawHeader {
			if err := json.Unmarshal(line, &t.Header); err != nil || t.Header.Type != "session" {
				return nil, fmt.Errorf("transcript %s: line %d is not a session header", path, lineNo)
			}
			sawHeader = true
			continue
		}

		var fields entryFields
		if err := json.Unmarshal(line, &fields); err != nil {
			m.logger.Warn("skipping malformed transcript line", "path", path, "line", lineNo, "error", err)
			continue
		}
		entry := Entry{Type: fields.Type, ID: fields.ID, Raw: append(json.RawMessage(nil), line...)}
		if fields.ParentID != nil {
			entry.ParentID = *fields.ParentID
		}
		t.Entries = append(t.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("transcript %s: missing session header", path)
	}
	return t, nil
}

// Create writes a new transcript containing only a header. parentSession, when
// set, records the transcript this one descends from.
func (m *FileManager) Create(parentSession string) (Ref, error) {
	id := m.newID()
	path := m.PathFor(id)
	if err := m.writeFile(path, m.header(id, parentSession), nil); err != nil {
		return Ref{}, err
	}
	return Ref{SessionID: id, SessionFile: path}, nil
}

// Branch copies the path from the root to leafID into a new transcript whose
// header points back at src. An empty leafID branches from src's current leaf.
func (m *FileManager) Branch(src *Transcript, leafID string) (Ref, error) {
	if leafID == "" {
		leafID = src.LeafID()
	}
	if leafID == "" {
		return Ref{}, ErrNoLeaf
	}

	byID := make(map[string]Entry, len(src.Entries))
	for _, e := range src.Entries {
		if e.ID != "" {
			byID[e.ID] = e
		}
	}

	var chain []Entry
	seen := make(map[string]bool)
	for cur := leafID; cur != ""; {
		e, ok := byID[cur]
		if !ok || seen[cur] {
			break
		}
		seen[cur] = true
		chain = append(chain, e)
		cur = e.ParentID
	}
	if len(chain) == 0 {
		return Ref{}, fmt.Errorf("branch transcript: entry %q not found: %w", leafID, ErrNoLeaf)
	}

	lines := make([]json.RawMessage, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		lines = append(lines, chain[i].Raw)
	}

	id := m.newID()
	path := m.PathFor(id)
	if err := m.writeFile(path, m.header(id, src.Path), lines); err != nil {
		return Ref{}, err
	}
	m.logger.Debug("branched transcript", "from", src.Path, "to", path, "entries", len(lines))
	return Ref{SessionID: id, SessionFile: path}, nil
}

// Append adds one entry to the transcript at path. A missing id is generated and
// a missing parentId is linked to the current leaf. Returns the entry id.
func (m *FileManager) Append(path string, entryType string, fields map[string]any) (string, error) {
	t, err := m.Open(path)
	if err != nil {
		return "", err
	}

	record := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		record[k] = v
	}
	record["type"] = entryType
	if id, _ := record["id"].(string); id == "" {
		record["id"] = m.newID()
	}
	if _, ok := record["parentId"]; !ok {
		if leaf := t.LeafID(); leaf != "" {
			record["parentId"] = leaf
		} else {
			record["parentId"] = nil
		}
	}
	if _, ok := record["timestamp"]; !ok {
		record["timestamp"] = m.now().UTC().Format(time.RFC3339Nano)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode transcript entry: %w", err)
	}
	line = append(line, '\n')

	// #nosec G304 -- transcript paths come from the session store.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("open transcript: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(line); err != nil {
		return "", fmt.Errorf("append transcript entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync transcript: %w", err)
	}
	return record["id"].(string), nil
}

func (m *FileManager) header(id, parentSession string) Header {
	return Header{
		Type:          "session",
		Version:       Version,
		ID:            id,
		Timestamp:     m.now().UTC().Format(time.RFC3339Nano),
		Cwd:           m.cwd,
		ParentSession: strings.TrimSpace(parentSession),
	}
}

func (m *FileManager) writeFile(path string, h Header, lines []json.RawMessage) error {
	headerLine, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode transcript header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(headerLine)
	buf.WriteByte('\n')
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	// #nosec G304 -- path is derived from a generated session id.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync transcript: %w", err)
	}
	return f.Close()
}
