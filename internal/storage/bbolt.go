package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"parley/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
)

// BboltStore is the append-only message log. Messages live in one sub-bucket
// per room, keyed by a big-endian sequence number taken from the parent
// bucket, so IDs are monotonic across all rooms.
type BboltStore struct {
	db *bbolt.DB
}

func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

// SaveMessage appends a message and returns its assigned id. The caller's
// Message is not mutated.
func (s *BboltStore) SaveMessage(msg models.Message) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if msg.Room == "" {
			return fmt.Errorf("message missing room")
		}

		mainBucket := tx.Bucket(bucketMessages)
		seq, err := mainBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}
		id = int64(seq)

		roomBucket, err := mainBucket.CreateBucketIfNotExists([]byte(msg.Room))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		dbMsg := DBMessage{
			ID:        id,
			Timestamp: msg.Timestamp,
			Room:      msg.Room,
			User:      msg.User,
			Body:      msg.Body,
		}
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return roomBucket.Put(dbMsg.Key(), data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecentMessages returns up to limit messages from room, newest first.
// Callers wanting chronological order reverse the result.
func (s *BboltStore) RecentMessages(room string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(room))
		if roomBucket == nil {
			return nil // no messages for this room yet
		}

		c := roomBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			msg, err := decodeMessage(v)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	return messages, err
}

// MessagesByUser returns up to limit messages sent by user across all rooms,
// newest first.
func (s *BboltStore) MessagesByUser(user string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		mainBucket := tx.Bucket(bucketMessages)
		return mainBucket.ForEachBucket(func(name []byte) error {
			return mainBucket.Bucket(name).ForEach(func(k, v []byte) error {
				msg, err := decodeMessage(v)
				if err != nil {
					return err
				}
				if msg.User == user {
					messages = append(messages, msg)
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ID > messages[j].ID })
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// SearchMessages returns up to limit messages in room whose body contains
// term, case-insensitively, newest first. The term arrives pre-trimmed and
// capped by the caller; matching is a cursor scan, nothing is assembled into
// a query.
func (s *BboltStore) SearchMessages(room, term string, limit int) ([]models.Message, error) {
	needle := strings.ToLower(term)
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(room))
		if roomBucket == nil {
			return nil
		}

		c := roomBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			msg, err := decodeMessage(v)
			if err != nil {
				return err
			}
			if strings.Contains(strings.ToLower(msg.Body), needle) {
				messages = append(messages, msg)
			}
		}
		return nil
	})
	return messages, err
}

func decodeMessage(data []byte) (models.Message, error) {
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return models.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return models.Message{
		ID:        dbMsg.ID,
		Timestamp: dbMsg.Timestamp,
		Room:      dbMsg.Room,
		User:      dbMsg.User,
		Body:      dbMsg.Body,
	}, nil
}
