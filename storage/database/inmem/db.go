package inmemdb

import (
	"sync"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
)

// DB is an in-memory stand-in for both the admin and the content store.
// Every write is announced on the publisher, like the database triggers do.
type DB struct {
	mu         sync.RWMutex
	users      map[string]user.User
	profiles   map[string]user.Profile
	sessions   map[string]session.Session
	activities []session.Activity
	settings   map[string][]byte
	documents  map[content.Collection]map[string]content.Document

	pub core.Publisher
}

// NewDB returns an empty DB. pub may be nil.
func NewDB(pub core.Publisher) *DB {
	db := &DB{pub: pub}
	db.reset()
	return db
}

func (db *DB) reset() {
	db.users = make(map[string]user.User)
	db.profiles = make(map[string]user.Profile)
	db.sessions = make(map[string]session.Session)
	db.activities = nil
	db.settings = make(map[string][]byte)
	db.documents = make(map[content.Collection]map[string]content.Document)
}

// Reset drops every record.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.reset()
}

func (db *DB) publish(topic string, keys ...string) {
	if db.pub == nil {
		return
	}
	for _, k := range keys {
		db.pub.Publish(topic, k)
	}
}
