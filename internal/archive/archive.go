// Package archive persists final request/response pairs for audit and
// analytics. Writes are fire-and-forget: archival failure is logged and never
// affects the client response.
package archive

import (
	"database/sql"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	conversation_key TEXT NOT NULL,
	model TEXT NOT NULL,
	request_json TEXT NOT NULL,
	response_json TEXT NOT NULL,
	finish_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation_key ON turns(conversation_key);
`

// Record is one archived turn.
type Record struct {
	ConversationKey string
	Model           string
	RequestJSON     []byte
	ResponseJSON    []byte
	FinishReason    string
}

// Store writes records to a local sqlite database on a background worker.
type Store struct {
	db    *sql.DB
	queue chan Record
	done  chan struct{}
}

// Open creates (or reuses) the archive database at path and starts the
// writer goroutine.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:    db,
		queue: make(chan Record, 256),
		done:  make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

// Record enqueues a turn for archival. It never blocks: if the queue is full
// the record is dropped with a warning.
func (s *Store) Record(rec Record) {
	if s == nil {
		return
	}
	select {
	case s.queue <- rec:
	default:
		log.Warn("archive queue full, dropping record")
	}
}

// Close drains the queue and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	close(s.queue)
	<-s.done
	return s.db.Close()
}

func (s *Store) writer() {
	defer close(s.done)
	for rec := range s.queue {
		_, err := s.db.Exec(
			`INSERT INTO turns (created_at, conversation_key, model, request_json, response_json, finish_reason) VALUES (?, ?, ?, ?, ?, ?)`,
			time.Now().UTC(), rec.ConversationKey, rec.Model, string(rec.RequestJSON), string(rec.ResponseJSON), rec.FinishReason,
		)
		if err != nil {
			log.Warnf("archive write failed: %v", err)
		}
	}
}
