package content

import (
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
)

type Collection string

const (
	Events     Collection = "events"
	Students   Collection = "students"
	News       Collection = "news"
	Courses    Collection = "courses"
	Placements Collection = "placements"
	Workshops  Collection = "workshops"
)

var AllCollections = []Collection{Events, Students, News, Courses, Placements, Workshops}

// ParseCollection returns the collection named s, if any.
func ParseCollection(s string) (Collection, bool) {
	for _, c := range AllCollections {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Capability is the capability required to edit the collection.
func (c Collection) Capability() authz.Capability {
	return authz.Capability(c)
}

// Topic is the notification topic of the collection; keys are document ids.
func (c Collection) Topic() string {
	return "content." + string(c)
}

// Document is a piece of public content.
type Document struct {
	ID         string            `bson:"_id" json:"id"`
	Collection Collection        `bson:"collection" json:"collection"`
	Title      string            `bson:"title" json:"title"`
	Slug       string            `bson:"slug" json:"slug"`
	Summary    string            `bson:"summary" json:"summary"`
	Body       string            `bson:"body" json:"body"`
	ImageURL   string            `bson:"imageUrl" json:"image_url"`
	Date       *time.Time        `bson:"date,omitempty" json:"date"`
	Published  bool              `bson:"published" json:"published"`
	Order      int               `bson:"order" json:"order"`
	Attributes map[string]string `bson:"attributes" json:"attributes"`
	CreatedAt  time.Time         `bson:"createdAt" json:"created_at"` // UTC
	UpdatedAt  time.Time         `bson:"updatedAt" json:"updated_at"` // UTC
	CreatedBy  string            `bson:"createdBy" json:"created_by"`
	UpdatedBy  string            `bson:"updatedBy" json:"updated_by"`
}

// DocumentInput is what editors provide to create or replace a Document.
type DocumentInput struct {
	Collection Collection        `json:"-"`
	Title      string            `json:"title" validate:"required,max=200"`
	Slug       string            `json:"slug" validate:"required,max=200,slug"`
	Summary    string            `json:"summary" validate:"max=500"`
	Body       string            `json:"body"`
	ImageURL   string            `json:"image_url" validate:"omitempty,url"`
	Date       *time.Time        `json:"date"`
	Published  bool              `json:"published"`
	Order      int               `json:"order" validate:"min=0"`
	Attributes map[string]string `json:"attributes" validate:"omitempty,dive,keys,required,max=50,endkeys,max=500"`
}

func (in *DocumentInput) Clean() {
	in.Title = core.CleanString(in.Title)
	in.Slug = core.CleanString(in.Slug, true /* lower */)
	if in.Slug == "" {
		in.Slug = core.Slugify(in.Title)
	}
	in.Summary = core.CleanString(in.Summary)
	in.ImageURL = core.CleanString(in.ImageURL)
	attrs := make(map[string]string, len(in.Attributes))
	for k, v := range in.Attributes {
		if k = core.CleanString(k, true /* lower */); k != "" {
			attrs[k] = core.CleanString(v)
		}
	}
	in.Attributes = attrs
	if in.Date != nil {
		d := in.Date.UTC()
		in.Date = &d
	}
}

type QueryFilter struct {
	Search    string    `query:"search"`
	Published *bool     `query:"published"`
	DateFrom  time.Time `query:"date_from"`
	DateTo    time.Time `query:"date_to"`
	Limit     int       `query:"limit"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	switch {
	case qf.Limit <= 0:
		qf.Limit = DefaultLimit
	case qf.Limit > MaxLimit:
		qf.Limit = MaxLimit
	}
}

// list limits
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// DefaultOrdering lists documents by display order, then most recent date first.
var DefaultOrdering = []core.DBOrdering{
	{Field: "order", Ascending: true},
	{Field: "date", Ascending: false},
}

// OrderingFields maps API ordering fields to document fields.
var OrderingFields = map[string]string{
	"order":      "order",
	"date":       "date",
	"title":      "title",
	"created_at": "createdAt",
	"updated_at": "updatedAt",
}
