package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orderdesk/api/internal/authz"
	"orderdesk/api/internal/identity"
	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/notify"
	"orderdesk/api/internal/search"
	"orderdesk/api/internal/store"
)

const (
	maxBodyLength  = 10000
	excerptLength  = 140
	defaultPerPage = 25
	maxPerPage     = 100
)

var allowedStatuses = map[string]struct{}{
	store.StatusPending:       {},
	store.StatusInProgress:    {},
	store.StatusNeedsFeedback: {},
	store.StatusComplete:      {},
	store.StatusCancelled:     {},
}

type dataStore interface {
	GetUser(context.Context, int64) (store.User, error)
	GetOrder(context.Context, int64) (store.Order, error)
	InsertComment(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error)
	ListThreadEvents(context.Context, int64) ([]store.ThreadEvent, error)
	SetOrderStatus(ctx context.Context, orderID int64, status string) (bool, error)
	AssignOrder(ctx context.Context, orderID, adminID int64) (bool, error)
	UpsertReadReceipt(ctx context.Context, userID, orderID int64, readAt time.Time) error
	UnreadCountsFor(ctx context.Context, userID int64, orderIDs []int64) (map[int64]int, error)
	LatestEventTimesFor(ctx context.Context, orderIDs []int64) (map[int64]time.Time, error)
	ListOrders(context.Context, store.OrderFilter) ([]store.OrderListRow, error)
	CountOrders(context.Context, store.OrderFilter) (int, error)
	ListOwnedOrders(context.Context, int64) ([]store.OrderListRow, error)
	OrderSearchRow(context.Context, int64) (store.OrderListRow, error)
	ListOrderSearchRows(context.Context) ([]store.OrderListRow, error)
	Ping(context.Context) error
}

type notifier interface {
	Enqueue(notify.Job)
}

type searcher interface {
	MatchOrderIDs(q string) ([]int64, bool)
	IndexOrder(search.OrderRecord)
	ReindexAll([]search.OrderRecord)
}

// Service implements the order collaboration core. It is stateless; all
// cross-request coordination lives in the store's transactional and
// constraint guarantees.
type Service struct {
	store         dataStore
	notifier      notifier
	search        searcher
	portalBaseURL string
	now           func() time.Time
}

// NewService wires the service. notifier and search may be nil; comment
// notifications and free-text search degrade gracefully without them.
func NewService(st dataStore, n notifier, se searcher, portalBaseURL string) *Service {
	return &Service{
		store:         st,
		notifier:      n,
		search:        se,
		portalBaseURL: portalBaseURL,
		now:           time.Now,
	}
}

// Ping reports storage health for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ThreadEventView is the JSON shape of one thread entry.
type ThreadEventView struct {
	ID                       int64      `json:"id"`
	OrderID                  int64      `json:"orderId"`
	AuthorUserID             *int64     `json:"authorUserId"`
	Body                     string     `json:"body"`
	Source                   string     `json:"source"`
	EventType                string     `json:"eventType"`
	RequiresCustomerResponse bool       `json:"requiresCustomerResponse"`
	CreatedAt                time.Time  `json:"createdAt"`
	EditedAt                 *time.Time `json:"editedAt,omitempty"`
}

type OrderView struct {
	ID              int64     `json:"id"`
	OwnerID         int64     `json:"ownerId"`
	Status          string    `json:"status"`
	AssignedAdminID *int64    `json:"assignedAdminId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type ThreadView struct {
	Order   OrderView         `json:"order"`
	Updates []ThreadEventView `json:"updates"`
	CanPost bool              `json:"canPost"`
}

type StatusResult struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

type AssignResult struct {
	OrderID         int64 `json:"orderId"`
	AssignedAdminID int64 `json:"assignedAdminId"`
}

// OrderRowView is one enriched row of the admin list or customer inbox.
type OrderRowView struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"ownerId"`
	Status          string     `json:"status"`
	AssignedAdminID *int64     `json:"assignedAdminId"`
	CustomerName    string     `json:"customerName"`
	CustomerEmail   string     `json:"customerEmail"`
	BusinessName    string     `json:"businessName"`
	UnreadCount     int        `json:"unreadCount"`
	LatestEventAt   *time.Time `json:"latestEventAt"`
	AgeHours        int64      `json:"ageHours"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type OrderListResult struct {
	Rows     []OrderRowView `json:"rows"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

func eventView(event store.ThreadEvent) ThreadEventView {
	return ThreadEventView{
		ID:                       event.ID,
		OrderID:                  event.OrderID,
		AuthorUserID:             event.AuthorUserID,
		Body:                     event.Body,
		Source:                   event.Source,
		EventType:                event.EventType,
		RequiresCustomerResponse: event.RequiresCustomerResponse,
		CreatedAt:                event.CreatedAt,
		EditedAt:                 event.EditedAt,
	}
}

func orderView(order store.Order) OrderView {
	return OrderView{
		ID:              order.ID,
		OwnerID:         order.OwnerID,
		Status:          order.Status,
		AssignedAdminID: order.AssignedAdminID,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

// PostComment appends an authored comment to an order's thread.
func (s *Service) PostComment(ctx context.Context, actor identity.Actor, orderID int64, rawBody string, requiresResponseRequested bool) (ThreadEventView, error) {
	if orderID <= 0 {
		return ThreadEventView{}, errValidation("orderId must be a positive integer")
	}
	if actor.UserID <= 0 {
		return ThreadEventView{}, errValidation("actor id must be a positive integer")
	}
	if len(rawBody) > maxBodyLength {
		return ThreadEventView{}, errValidation("body is too long")
	}
	body := sanitizeBody(rawBody)
	if body == "" {
		return ThreadEventView{}, errValidation("body is required")
	}

	var order store.Order
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		order, err = s.store.GetOrder(gctx, orderID)
		return err
	})
	g.Go(func() error {
		if _, err := s.store.GetUser(gctx, actor.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errForbidden()
			}
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ThreadEventView{}, err
	}

	access := authz.Authorize(actor.UserID, actor.IsAdmin, order)
	if !access.Allowed() {
		return ThreadEventView{}, errForbidden()
	}
	if !order.CanPost() {
		return ThreadEventView{}, errOrderClosed(order.Status)
	}

	// A customer cannot demand a response from themself.
	requiresResponse := requiresResponseRequested && access.IsAdmin

	event, err := s.store.InsertComment(ctx, orderID, actor.UserID, body, requiresResponse)
	if err != nil {
		if errors.Is(err, store.ErrRateLimited) {
			metrics.CommentsRateLimitedTotal.Inc()
			return ThreadEventView{}, errRateLimited()
		}
		return ThreadEventView{}, err
	}
	metrics.CommentsPostedTotal.Inc()

	// The author's own comment never counts as unread for them; advance
	// their watermark to the event so only the other party sees it.
	if err := s.store.UpsertReadReceipt(ctx, actor.UserID, orderID, event.CreatedAt); err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Int64("user_id", actor.UserID).Msg("advance author receipt failed")
	}

	s.notifyOtherParty(access, order, event, body)

	return eventView(event), nil
}

// notifyOtherParty hands the notification to the dispatcher. Admins notify
// the order's owner; customers notify the assigned admin, silently skipped
// when nobody is assigned yet.
func (s *Service) notifyOtherParty(access authz.Access, order store.Order, event store.ThreadEvent, body string) {
	if s.notifier == nil {
		return
	}
	var target int64
	if access.IsAdmin {
		target = order.OwnerID
	} else {
		if order.AssignedAdminID == nil {
			return
		}
		target = *order.AssignedAdminID
	}
	s.notifier.Enqueue(notify.Job{
		OrderID:      order.ID,
		EventID:      event.ID,
		TargetUserID: target,
		Excerpt:      excerpt(body),
		ThreadURL:    fmt.Sprintf("%s/orders/%d", s.portalBaseURL, order.ID),
	})
}

func excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= excerptLength {
		return body
	}
	return string(runes[:excerptLength]) + "…"
}

// SetStatus transitions an order's status and records the matching system
// event atomically.
func (s *Service) SetStatus(ctx context.Context, actor identity.Actor, orderID int64, status string) (StatusResult, error) {
	if !actor.IsAdmin {
		return StatusResult{}, errForbidden()
	}
	if orderID <= 0 {
		return StatusResult{}, errValidation("orderId must be a positive integer")
	}
	if _, ok := allowedStatuses[status]; !ok {
		return StatusResult{}, errValidation("unknown status: " + status)
	}

	ok, err := s.store.SetOrderStatus(ctx, orderID, status)
	if err != nil {
		return StatusResult{}, err
	}
	if !ok {
		return StatusResult{}, sql.ErrNoRows
	}

	s.reindexOrder(ctx, orderID)
	return StatusResult{OrderID: orderID, Status: status}, nil
}

// Assign sets the order's assigned admin and records the matching system
// event atomically. The assignee must exist and be an admin.
func (s *Service) Assign(ctx context.Context, actor identity.Actor, orderID, adminID int64) (AssignResult, error) {
	if !actor.IsAdmin {
		return AssignResult{}, errForbidden()
	}
	if orderID <= 0 {
		return AssignResult{}, errValidation("orderId must be a positive integer")
	}
	if adminID <= 0 {
		return AssignResult{}, errValidation("adminUserId must be a positive integer")
	}

	assignee, err := s.store.GetUser(ctx, adminID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AssignResult{}, errValidation("assignee does not exist")
		}
		return AssignResult{}, err
	}
	if !assignee.IsAdmin {
		return AssignResult{}, errValidation("assignee is not an admin")
	}

	ok, err := s.store.AssignOrder(ctx, orderID, adminID)
	if err != nil {
		return AssignResult{}, err
	}
	if !ok {
		return AssignResult{}, sql.ErrNoRows
	}

	s.reindexOrder(ctx, orderID)
	return AssignResult{OrderID: orderID, AssignedAdminID: adminID}, nil
}

// MarkRead moves the actor's read watermark for the order forward to now.
func (s *Service) MarkRead(ctx context.Context, actor identity.Actor, orderID int64) error {
	if orderID <= 0 {
		return errValidation("orderId must be a positive integer")
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !authz.Authorize(actor.UserID, actor.IsAdmin, order).Allowed() {
		return errForbidden()
	}
	return s.store.UpsertReadReceipt(ctx, actor.UserID, orderID, s.now())
}

// Thread returns the order, its full event log in createdAt order, and
// whether the viewer may still post. Viewing the thread marks it read.
func (s *Service) Thread(ctx context.Context, actor identity.Actor, orderID int64) (ThreadView, error) {
	if orderID <= 0 {
		return ThreadView{}, errValidation("orderId must be a positive integer")
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return ThreadView{}, err
	}
	if !authz.Authorize(actor.UserID, actor.IsAdmin, order).Allowed() {
		return ThreadView{}, errForbidden()
	}

	events, err := s.store.ListThreadEvents(ctx, orderID)
	if err != nil {
		return ThreadView{}, err
	}

	if err := s.store.UpsertReadReceipt(ctx, actor.UserID, orderID, s.now()); err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Int64("user_id", actor.UserID).Msg("mark read on view failed")
	}

	updates := make([]ThreadEventView, 0, len(events))
	for _, event := range events {
		updates = append(updates, eventView(event))
	}
	return ThreadView{
		Order:   orderView(order),
		Updates: updates,
		CanPost: order.CanPost(),
	}, nil
}

// ListOrdersParams are the admin list's query parameters, pre-parse.
type ListOrdersParams struct {
	Status        string
	Assigned      string
	UpdatedWithin string
	Query         string
	Page          int
	PageSize      int
}

// ListOrders returns one page of the filtered admin projection plus the
// filtered total.
func (s *Service) ListOrders(ctx context.Context, actor identity.Actor, params ListOrdersParams) (OrderListResult, error) {
	if !actor.IsAdmin {
		return OrderListResult{}, errForbidden()
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPerPage
	}
	if pageSize > maxPerPage {
		pageSize = maxPerPage
	}

	status := params.Status
	if status == "all" {
		status = ""
	}
	if status != "" {
		if _, ok := allowedStatuses[status]; !ok {
			return OrderListResult{}, errValidation("unknown status: " + status)
		}
	}

	now := s.now()
	var updatedAfter time.Time
	switch params.UpdatedWithin {
	case "", "all":
	case "24h":
		updatedAfter = now.Add(-24 * time.Hour)
	case "7d":
		updatedAfter = now.Add(-7 * 24 * time.Hour)
	case "30d":
		updatedAfter = now.Add(-30 * 24 * time.Hour)
	default:
		return OrderListResult{}, errValidation("updatedWithin must be one of 24h, 7d, 30d, all")
	}

	filter := store.OrderFilter{
		Status:        status,
		AssignedTo:    params.Assigned,
		ViewerAdminID: actor.UserID,
		UpdatedAfter:  updatedAfter,
		Query:         params.Query,
		Limit:         pageSize,
		Offset:        (page - 1) * pageSize,
	}
	if params.Query != "" && s.search != nil {
		if ids, ok := s.search.MatchOrderIDs(params.Query); ok {
			filter.MatchIDs = ids
		}
	}

	rows, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return OrderListResult{}, err
	}
	total, err := s.store.CountOrders(ctx, filter)
	if err != nil {
		return OrderListResult{}, err
	}

	views, err := s.enrichRows(ctx, actor.UserID, rows, now)
	if err != nil {
		return OrderListResult{}, err
	}
	return OrderListResult{
		Rows:     views,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Inbox returns the customer's own orders with unread badges, newest
// activity first within the owned set.
func (s *Service) Inbox(ctx context.Context, actor identity.Actor) ([]OrderRowView, error) {
	rows, err := s.store.ListOwnedOrders(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.enrichRows(ctx, actor.UserID, rows, s.now())
}

// enrichRows decorates list rows with unread counts, latest activity and
// age. Both aggregates run as single batched queries regardless of row
// count.
func (s *Service) enrichRows(ctx context.Context, viewerID int64, rows []store.OrderListRow, now time.Time) ([]OrderRowView, error) {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	unread, err := s.store.UnreadCountsFor(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestEventTimesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]OrderRowView, 0, len(rows))
	for _, row := range rows {
		view := OrderRowView{
			ID:              row.ID,
			OwnerID:         row.OwnerID,
			Status:          row.Status,
			AssignedAdminID: row.AssignedAdminID,
			CustomerName:    row.CustomerName,
			CustomerEmail:   row.CustomerEmail,
			BusinessName:    row.BusinessName,
			UnreadCount:     unread[row.ID],
			AgeHours:        ageHours(now, row.CreatedAt),
			CreatedAt:       row.CreatedAt,
			UpdatedAt:       row.UpdatedAt,
		}
		if at, ok := latest[row.ID]; ok {
			t := at
			view.LatestEventAt = &t
		}
		views = append(views, view)
	}
	return views, nil
}

func ageHours(now, createdAt time.Time) int64 {
	hours := int64(math.Round(now.Sub(createdAt).Hours()))
	if hours < 0 {
		return 0
	}
	return hours
}

// Bootstrap seeds the search index from storage. Safe to call when search
// is not configured.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	rows, err := s.store.ListOrderSearchRows(ctx)
	if err != nil {
		return fmt.Errorf("load orders for reindex: %w", err)
	}
	records := make([]search.OrderRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, searchRecord(row))
	}
	s.search.ReindexAll(records)
	return nil
}

// reindexOrder refreshes one order's search record after a mutation.
// Best-effort; failures only log.
func (s *Service) reindexOrder(ctx context.Context, orderID int64) {
	if s.search == nil {
		return
	}
	row, err := s.store.OrderSearchRow(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Msg("load order for reindex failed")
		return
	}
	s.search.IndexOrder(searchRecord(row))
}

func searchRecord(row store.OrderListRow) search.OrderRecord {
	return search.OrderRecord{
		ID:            row.ID,
		CustomerName:  row.CustomerName,
		CustomerEmail: row.CustomerEmail,
		BusinessName:  row.BusinessName,
		Status:        row.Status,
	}
}
