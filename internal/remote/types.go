package remote

import "context"

// Page statuses as reported by the content API. Only StatusCurrent
// participates in reconciliation; everything else is treated as absent.
const (
	StatusCurrent  = "current"
	StatusArchived = "archived"
	StatusTrashed  = "trashed"
	StatusDraft    = "draft"
)

// Page is one remote document. Body is populated only by GetPage.
type Page struct {
	ID       string
	Title    string
	Version  int
	ParentID string
	Status   string
	Body     string

	UpdatedAt string
	AuthorID  string
}

// Current reports whether the page participates in reconciliation.
func (p Page) Current() bool {
	return p.Status == StatusCurrent
}

// Space describes a Confluence space.
type Space struct {
	ID   string
	Key  string
	Name string
}

// PageSpec is the writable subset of a page for create/update calls.
type PageSpec struct {
	Title    string
	ParentID string
	SpaceKey string
	Body     string
}

// API is the remote-store surface the sync engine consumes. The concrete
// Client implements it; tests substitute fakes.
type API interface {
	GetSpace(ctx context.Context, key string) (*Space, error)
	ListPages(ctx context.Context, spaceKey string) ([]Page, error)
	GetPage(ctx context.Context, id string) (*Page, error)
	CreatePage(ctx context.Context, spec PageSpec) (*Page, error)
	UpdatePage(ctx context.Context, id string, spec PageSpec, newVersion int) (*Page, error)
}
