package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/content"
)

type contentRepository struct {
	db *DB
}

var _ content.Repository = (*contentRepository)(nil)

func NewContentRepository(db *DB) content.Repository {
	return &contentRepository{db: db}
}

func (repo *contentRepository) collection(coll content.Collection) map[string]content.Document {
	docs, ok := repo.db.documents[coll]
	if !ok {
		docs = make(map[string]content.Document)
		repo.db.documents[coll] = docs
	}
	return docs
}

func (repo *contentRepository) slugTaken(coll content.Collection, slug, exceptID string) bool {
	for id, d := range repo.db.documents[coll] {
		if id != exceptID && d.Slug == slug {
			return true
		}
	}
	return false
}

func (repo *contentRepository) CreateDocument(_ context.Context, d content.Document) (content.Document, error) {
	repo.db.mu.Lock()
	if repo.slugTaken(d.Collection, d.Slug, "") {
		repo.db.mu.Unlock()
		return content.Document{}, content.ErrSlugExists
	}
	repo.collection(d.Collection)[d.ID] = d
	repo.db.mu.Unlock()

	repo.db.publish(d.Collection.Topic(), d.ID)
	return d, nil
}

func (repo *contentRepository) GetDocument(_ context.Context, coll content.Collection, id string) (content.Document, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if d, ok := repo.db.documents[coll][id]; ok {
		return d, nil
	}
	return content.Document{}, content.ErrNotFound
}

func (repo *contentRepository) GetDocumentBySlug(_ context.Context, coll content.Collection, slug string) (content.Document, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, d := range repo.db.documents[coll] {
		if d.Slug == slug {
			return d, nil
		}
	}
	return content.Document{}, content.ErrNotFound
}

func (repo *contentRepository) QueryDocuments(_ context.Context, coll content.Collection, filter content.QueryFilter, ordering []core.DBOrdering) ([]content.Document, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	docs := make([]content.Document, 0, len(repo.db.documents[coll]))
	for _, d := range repo.db.documents[coll] {
		if search != "" && !strings.Contains(strings.ToLower(d.Title), search) &&
			!strings.Contains(strings.ToLower(d.Summary), search) {
			continue
		}
		if filter.Published != nil && d.Published != *filter.Published {
			continue
		}
		if !filter.DateFrom.IsZero() && (d.Date == nil || d.Date.Before(filter.DateFrom)) {
			continue
		}
		if !filter.DateTo.IsZero() && (d.Date == nil || d.Date.After(filter.DateTo)) {
			continue
		}
		docs = append(docs, d)
	}
	sort.SliceStable(docs, func(i, j int) bool { return lessDocument(docs[i], docs[j], ordering) })
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

// lessDocument orders on the stored field names; documents without a date sort as the oldest.
func lessDocument(a, b content.Document, ordering []core.DBOrdering) bool {
	for _, ord := range ordering {
		var c int
		switch ord.Field {
		case "order":
			c = a.Order - b.Order
		case "date":
			c = compareTime(dateOf(a), dateOf(b))
		case "title":
			c = strings.Compare(a.Title, b.Title)
		case "createdAt":
			c = compareTime(a.CreatedAt, b.CreatedAt)
		case "updatedAt":
			c = compareTime(a.UpdatedAt, b.UpdatedAt)
		}
		if c != 0 {
			return (c < 0) == ord.Ascending
		}
	}
	return a.ID < b.ID
}

func dateOf(d content.Document) time.Time {
	if d.Date == nil {
		return time.Time{}
	}
	return *d.Date
}

func (repo *contentRepository) UpdateDocument(_ context.Context, d content.Document) (content.Document, error) {
	repo.db.mu.Lock()
	docs := repo.collection(d.Collection)
	if _, ok := docs[d.ID]; !ok {
		repo.db.mu.Unlock()
		return content.Document{}, content.ErrNotFound
	}
	if repo.slugTaken(d.Collection, d.Slug, d.ID) {
		repo.db.mu.Unlock()
		return content.Document{}, content.ErrSlugExists
	}
	docs[d.ID] = d
	repo.db.mu.Unlock()

	repo.db.publish(d.Collection.Topic(), d.ID)
	return d, nil
}

func (repo *contentRepository) DeleteDocument(_ context.Context, coll content.Collection, id string) error {
	repo.db.mu.Lock()
	if _, ok := repo.db.documents[coll][id]; !ok {
		repo.db.mu.Unlock()
		return content.ErrNotFound
	}
	delete(repo.db.documents[coll], id)
	repo.db.mu.Unlock()

	repo.db.publish(coll.Topic(), id)
	return nil
}
