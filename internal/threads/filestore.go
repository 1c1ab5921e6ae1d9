package threads

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pmorel/tasktalk/internal/storage/dirstore"
)

// FileStore persists threads as directories with meta.json + messages.jsonl.
type FileStore struct {
	ds *dirstore.DirStore
	// lastTs tracks the newest message timestamp per thread so appended
	// messages always get a strictly increasing CreatedAt.
	lastTs map[string]time.Time
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		ds:     dirstore.NewDirStore(baseDir, "thread"),
		lastTs: make(map[string]time.Time),
	}
}

func generateThreadID() string {
	u := uuid.New().String()
	return "th_" + strings.ReplaceAll(u[:8], "-", "")
}

func generateMessageID() string {
	u := uuid.New().String()
	return "msg_" + strings.ReplaceAll(u[:13], "-", "")
}

// Create initialises a new thread directory with meta.json.
func (fs *FileStore) Create(userID string) (*Thread, error) {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	now := time.Now()
	t := &Thread{
		ID:        generateThreadID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := fs.ds.EnsureDir(t.ID); err != nil {
		return nil, err
	}

	if err := fs.ds.WriteMeta(t.ID, t); err != nil {
		return nil, err
	}

	return t, nil
}

// Get reads thread metadata by ID.
func (fs *FileStore) Get(id string) (*Thread, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return fs.readMeta(id)
}

// List returns all threads sorted by UpdatedAt descending.
func (fs *FileStore) List() ([]*Thread, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	names, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}

	var list []*Thread
	for _, name := range names {
		t, err := fs.readMeta(name)
		if err != nil {
			continue // skip corrupted threads
		}
		list = append(list, t)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})

	return list, nil
}

// UpdateMeta atomically rewrites a thread's meta.json.
func (fs *FileStore) UpdateMeta(t *Thread) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if _, err := fs.readMeta(t.ID); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	return fs.ds.WriteMeta(t.ID, t)
}

// Append assigns id and timestamp, appends to the JSONL log, updates meta.
func (fs *FileStore) Append(threadID string, msg Message) (Message, error) {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	t, err := fs.readMeta(threadID)
	if err != nil {
		return Message{}, err
	}

	msg.ID = generateMessageID()
	msg.ThreadID = threadID
	msg.CreatedAt = fs.nextTimestamp(threadID)

	if err := fs.ds.AppendJSONL(threadID, "messages.jsonl", msg); err != nil {
		return Message{}, err
	}

	t.MessageCount++
	t.UpdatedAt = msg.CreatedAt
	if err := fs.ds.WriteMeta(t.ID, t); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// nextTimestamp returns a timestamp strictly after the thread's last one.
func (fs *FileStore) nextTimestamp(threadID string) time.Time {
	ts := time.Now()
	if last, ok := fs.lastTs[threadID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	fs.lastTs[threadID] = ts
	return ts
}

// Tail returns up to max messages, oldest truncated first.
func (fs *FileStore) Tail(threadID string, max int) ([]Message, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	if _, err := fs.readMeta(threadID); err != nil {
		return nil, err
	}

	msgs, err := dirstore.LoadJSONL[Message](fs.ds, threadID, "messages.jsonl")
	if err != nil {
		return nil, err
	}

	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs, nil
}

// readMeta reads a thread's meta.json, mapping absence to ErrNotFound.
func (fs *FileStore) readMeta(id string) (*Thread, error) {
	data, err := fs.ds.ReadFileContent(id, "meta.json")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var t Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}

	return &t, nil
}

var _ Store = (*FileStore)(nil)
