package poh

import (
	"encoding/binary"
	"encoding/json"

	"triad-node/database"
)

var entryPrefix = []byte("poh-")

// Journal stores recorded events in counter order.
type Journal interface {
	Append(e Entry) error
	Last() (Entry, bool, error)
	Entries() ([]Entry, error)
}

// DBJournal keeps entries in a database under big-endian counter keys, so
// key order is counter order.
type DBJournal struct {
	db database.Database
}

func NewDBJournal(db database.Database) *DBJournal {
	return &DBJournal{db: db}
}

func entryKey(counter uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], counter)
	return key
}

func (j *DBJournal) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return j.db.Put(entryKey(e.Counter), data)
}

func (j *DBJournal) Last() (Entry, bool, error) {
	_, value, err := j.db.Last(entryPrefix)
	if database.IsNotFound(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(value, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (j *DBJournal) Entries() ([]Entry, error) {
	var entries []Entry
	err := j.db.Iterate(entryPrefix, func(_, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}
