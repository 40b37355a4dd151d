package content

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/session"
)

var (
	// errors
	ErrNotFound   = core.NewNotFoundError("document not found")
	ErrSlugExists = errors.New("a document with this slug already exists")
)

type (
	Repository interface {
		// CreateDocument fails with ErrSlugExists when the slug is taken in the collection.
		CreateDocument(ctx context.Context, d Document) (Document, error)
		GetDocument(ctx context.Context, coll Collection, id string) (Document, error)
		GetDocumentBySlug(ctx context.Context, coll Collection, slug string) (Document, error)
		// QueryDocuments applies AND operation on the set QueryFilter fields; a zero Limit means no limit.
		QueryDocuments(ctx context.Context, coll Collection, filter QueryFilter, ordering []core.DBOrdering) ([]Document, error)
		// UpdateDocument replaces a document. It fails with ErrSlugExists when the slug is taken by another one.
		UpdateDocument(ctx context.Context, d Document) (Document, error)
		DeleteDocument(ctx context.Context, coll Collection, id string) error
	}

	// ActivityRecorder appends to the activity trail of a session.
	ActivityRecorder interface {
		RecordActivity(ctx context.Context, sessionID, action, target, details string)
	}

	Service struct {
		repo     Repository
		notifier core.Notifier
		activity ActivityRecorder
		validate *validator.Validate
	}
)

func NewService(repo Repository, notifier core.Notifier, activity ActivityRecorder, validate *validator.Validate) *Service {
	return &Service{repo: repo, notifier: notifier, activity: activity, validate: validate}
}

func (svc *Service) validateInput(coll Collection, in *DocumentInput) error {
	in.Collection = coll
	in.Clean()
	return svc.validate.Struct(in)
}

func slugError(err error) error {
	if errors.Cause(err) == ErrSlugExists {
		return core.NewValidationError(err, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})
	}
	return err
}

// List returns the documents of coll. Ordering defaults to DefaultOrdering.
func (svc *Service) List(ctx context.Context, coll Collection, filter QueryFilter, ordering []core.DBOrdering) ([]Document, error) {
	filter.Clean()
	ordering = core.MapOrderings(ordering, OrderingFields)
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}
	docs, err := svc.repo.QueryDocuments(ctx, coll, filter, ordering)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", coll)
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// ListPublished returns the published documents of coll.
func (svc *Service) ListPublished(ctx context.Context, coll Collection, filter QueryFilter, ordering []core.DBOrdering) ([]Document, error) {
	published := true
	filter.Published = &published
	return svc.List(ctx, coll, filter, ordering)
}

func (svc *Service) Get(ctx context.Context, coll Collection, id string) (Document, error) {
	d, err := svc.repo.GetDocument(ctx, coll, id)
	if err != nil {
		if core.IsNotFound(err) {
			return Document{}, ErrNotFound
		}
		return Document{}, errors.Wrapf(err, "getting %s document", coll)
	}
	return d, nil
}

// GetPublished returns a published document by slug.
func (svc *Service) GetPublished(ctx context.Context, coll Collection, slug string) (Document, error) {
	d, err := svc.repo.GetDocumentBySlug(ctx, coll, slug)
	if err != nil {
		if core.IsNotFound(err) {
			return Document{}, ErrNotFound
		}
		return Document{}, errors.Wrapf(err, "getting %s document", coll)
	}
	if !d.Published {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (svc *Service) Create(ctx context.Context, coll Collection, in DocumentInput, actor session.Actor) (Document, error) {
	if err := svc.validateInput(coll, &in); err != nil {
		return Document{}, err
	}
	now := time.Now().UTC()
	d := Document{
		ID:         uuid.New().String(),
		Collection: coll,
		CreatedAt:  now,
		CreatedBy:  actor.UserID,
	}
	d = fill(d, in, now, actor)

	d, err := svc.repo.CreateDocument(ctx, d)
	if err != nil {
		return Document{}, errors.Wrapf(slugError(err), "creating %s document", coll)
	}
	svc.activity.RecordActivity(ctx, actor.SessionID, session.ActionCreate, string(coll)+"/"+d.Slug, d.Title)
	return d, nil
}

// Update replaces document id with in. Concurrent updates are last-writer-wins.
func (svc *Service) Update(ctx context.Context, coll Collection, id string, in DocumentInput, actor session.Actor) (Document, error) {
	if err := svc.validateInput(coll, &in); err != nil {
		return Document{}, err
	}
	d, err := svc.Get(ctx, coll, id)
	if err != nil {
		return Document{}, err
	}
	d = fill(d, in, time.Now().UTC(), actor)

	d, err = svc.repo.UpdateDocument(ctx, d)
	if err != nil {
		if core.IsNotFound(err) {
			return Document{}, ErrNotFound
		}
		return Document{}, errors.Wrapf(slugError(err), "updating %s document", coll)
	}
	svc.activity.RecordActivity(ctx, actor.SessionID, session.ActionUpdate, string(coll)+"/"+d.Slug, d.Title)
	return d, nil
}

func (svc *Service) Delete(ctx context.Context, coll Collection, id string, actor session.Actor) error {
	d, err := svc.Get(ctx, coll, id)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteDocument(ctx, coll, id); err != nil {
		if core.IsNotFound(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "deleting %s document", coll)
	}
	svc.activity.RecordActivity(ctx, actor.SessionID, session.ActionDelete, string(coll)+"/"+d.Slug, d.Title)
	return nil
}

// WatchPublished streams the published list of coll after every change to the collection.
func (svc *Service) WatchPublished(ctx context.Context, coll Collection, filter QueryFilter, ordering []core.DBOrdering) (<-chan core.Snapshot[[]Document], func()) {
	return core.Watch(ctx, svc.notifier, coll.Topic(), "", func(ctx context.Context) ([]Document, error) {
		return svc.ListPublished(ctx, coll, filter, ordering)
	})
}

// Export returns every document of every collection.
func (svc *Service) Export(ctx context.Context) (map[Collection][]Document, error) {
	all := make(map[Collection][]Document, len(AllCollections))
	for _, coll := range AllCollections {
		docs, err := svc.repo.QueryDocuments(ctx, coll, QueryFilter{}, DefaultOrdering)
		if err != nil {
			return nil, errors.Wrapf(err, "exporting %s", coll)
		}
		if docs == nil {
			docs = []Document{}
		}
		all[coll] = docs
	}
	return all, nil
}

func fill(d Document, in DocumentInput, now time.Time, actor session.Actor) Document {
	d.Title = in.Title
	d.Slug = in.Slug
	d.Summary = in.Summary
	d.Body = in.Body
	d.ImageURL = in.ImageURL
	d.Date = in.Date
	d.Published = in.Published
	d.Order = in.Order
	d.Attributes = in.Attributes
	d.UpdatedAt = now
	d.UpdatedBy = actor.UserID
	return d
}
