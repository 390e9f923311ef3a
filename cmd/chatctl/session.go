package main

import (
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mycelian/mycelian-chat/internal/orchestrator"
)

var sessionsBucket = []byte("sessions")

// defaultSessionDB returns ~/.chatctl/sessions.bolt, or a path under the
// working directory when the home directory is unknown.
func defaultSessionDB() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".chatctl", "sessions.bolt")
}

func sessionKey(userID, name string) []byte {
	return []byte(userID + "/" + name)
}

func openSessionDB(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
}

// loadSession reads a saved session. A missing path, bucket or key yields nil.
func loadSession(path, userID, name string) (*orchestrator.Session, error) {
	if path == "" || name == "" {
		return nil, nil
	}
	db, err := openSessionDB(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var out *orchestrator.Session
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		v := b.Get(sessionKey(userID, name))
		if len(v) == 0 {
			return nil
		}
		var s orchestrator.Session
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		out = &s
		return nil
	})
	return out, err
}

func saveSession(path, name string, s orchestrator.Session) error {
	if path == "" || name == "" {
		return nil
	}
	db, err := openSessionDB(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	enc, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return err
		}
		return b.Put(sessionKey(s.UserID, name), enc)
	})
}

// savedSession is one row of the sessions listing.
type savedSession struct {
	Key            string  `json:"key"`
	ConversationID string  `json:"conversationId"`
	Messages       int     `json:"messages"`
	TotalTokens    int     `json:"totalTokens"`
	TotalCost      float64 `json:"totalCost"`
}

// listSessions returns every saved session ordered by key. Malformed entries are skipped.
func listSessions(path string) ([]savedSession, error) {
	db, err := openSessionDB(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var out []savedSession
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var s orchestrator.Session
			if json.Unmarshal(v, &s) != nil {
				return nil
			}
			out = append(out, savedSession{
				Key:            string(k),
				ConversationID: s.ConversationID,
				Messages:       len(s.Transcript),
				TotalTokens:    s.TotalTokens,
				TotalCost:      s.TotalCost,
			})
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return filepath.Base(params["filename"])
}
