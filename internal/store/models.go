package store

import "time"

// Order statuses. An order accepts new thread events unless it has reached
// one of the two terminal statuses.
const (
	StatusPending       = "pending"
	StatusInProgress    = "in-progress"
	StatusNeedsFeedback = "needs-feedback"
	StatusComplete      = "complete"
	StatusCancelled     = "cancelled"
)

// ThreadEvent sources and types.
const (
	SourceWeb    = "web"
	SourceEmail  = "email"
	SourceSystem = "system"

	EventComment = "comment"
	EventStatus  = "status"
	EventEmail   = "email"
)

type User struct {
	ID           int64
	Name         string
	Email        string
	BusinessName string
	IsAdmin      bool
	CreatedAt    time.Time
}

type Order struct {
	ID              int64
	OwnerID         int64
	Status          string
	AssignedAdminID *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanPost reports whether the order still accepts comments.
func (o Order) CanPost() bool {
	return o.Status != StatusComplete && o.Status != StatusCancelled
}

// ThreadEvent is one immutable entry in an order's append-only log.
// AuthorUserID is nil for system-authored entries (status changes,
// assignments). CreatedAt is the ordering key; ties break on ID ascending.
type ThreadEvent struct {
	ID                       int64
	OrderID                  int64
	AuthorUserID             *int64
	Body                     string
	Source                   string
	EventType                string
	RequiresCustomerResponse bool
	CreatedAt                time.Time
	EditedAt                 *time.Time
}

// ReadReceipt is the per-(user, order) last-read watermark. LastReadAt only
// ever moves forward.
type ReadReceipt struct {
	UserID     int64
	OrderID    int64
	LastReadAt time.Time
}

// OrderListRow is an order joined with its customer's directory fields, as
// consumed by the admin list and the customer inbox.
type OrderListRow struct {
	Order
	CustomerName  string
	CustomerEmail string
	BusinessName  string
}

// OrderFilter narrows the admin list. Zero values mean "no filter".
type OrderFilter struct {
	Status        string
	AssignedTo    string // "me", "none", or a numeric admin id
	ViewerAdminID int64  // resolves AssignedTo == "me"
	UpdatedAfter  time.Time
	Query         string // substring match on customer name/email/business name

	// When MatchIDs is non-nil the Query filter has already been resolved
	// to order ids by the search index and Query is ignored.
	MatchIDs []int64

	Limit  int
	Offset int
}
