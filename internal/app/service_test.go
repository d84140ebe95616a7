package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"orderdesk/api/internal/identity"
	"orderdesk/api/internal/notify"
	"orderdesk/api/internal/search"
	"orderdesk/api/internal/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	getUserFn             func(context.Context, int64) (store.User, error)
	getOrderFn            func(context.Context, int64) (store.Order, error)
	insertCommentFn       func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error)
	listThreadEventsFn    func(context.Context, int64) ([]store.ThreadEvent, error)
	setOrderStatusFn      func(ctx context.Context, orderID int64, status string) (bool, error)
	assignOrderFn         func(ctx context.Context, orderID, adminID int64) (bool, error)
	upsertReadReceiptFn   func(ctx context.Context, userID, orderID int64, readAt time.Time) error
	unreadCountsFn        func(ctx context.Context, userID int64, orderIDs []int64) (map[int64]int, error)
	latestEventTimesFn    func(ctx context.Context, orderIDs []int64) (map[int64]time.Time, error)
	listOrdersFn          func(context.Context, store.OrderFilter) ([]store.OrderListRow, error)
	countOrdersFn         func(context.Context, store.OrderFilter) (int, error)
	listOwnedOrdersFn     func(context.Context, int64) ([]store.OrderListRow, error)
	orderSearchRowFn      func(context.Context, int64) (store.OrderListRow, error)
	listOrderSearchRowsFn func(context.Context) ([]store.OrderListRow, error)
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, userID)
	}
	return store.User{ID: userID, Name: "User", Email: "user@example.com"}, nil
}
func (f *fakeStore) GetOrder(ctx context.Context, orderID int64) (store.Order, error) {
	if f.getOrderFn != nil {
		return f.getOrderFn(ctx, orderID)
	}
	return store.Order{}, sql.ErrNoRows
}
func (f *fakeStore) InsertComment(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, orderID, authorID, body, requiresResponse)
	}
	return store.ThreadEvent{
		ID:                       1,
		OrderID:                  orderID,
		AuthorUserID:             &authorID,
		Body:                     body,
		Source:                   store.SourceWeb,
		EventType:                store.EventComment,
		RequiresCustomerResponse: requiresResponse,
		CreatedAt:                testNow,
	}, nil
}
func (f *fakeStore) ListThreadEvents(ctx context.Context, orderID int64) ([]store.ThreadEvent, error) {
	if f.listThreadEventsFn != nil {
		return f.listThreadEventsFn(ctx, orderID)
	}
	return nil, nil
}
func (f *fakeStore) SetOrderStatus(ctx context.Context, orderID int64, status string) (bool, error) {
	if f.setOrderStatusFn != nil {
		return f.setOrderStatusFn(ctx, orderID, status)
	}
	return true, nil
}
func (f *fakeStore) AssignOrder(ctx context.Context, orderID, adminID int64) (bool, error) {
	if f.assignOrderFn != nil {
		return f.assignOrderFn(ctx, orderID, adminID)
	}
	return true, nil
}
func (f *fakeStore) UpsertReadReceipt(ctx context.Context, userID, orderID int64, readAt time.Time) error {
	if f.upsertReadReceiptFn != nil {
		return f.upsertReadReceiptFn(ctx, userID, orderID, readAt)
	}
	return nil
}
func (f *fakeStore) UnreadCountsFor(ctx context.Context, userID int64, orderIDs []int64) (map[int64]int, error) {
	if f.unreadCountsFn != nil {
		return f.unreadCountsFn(ctx, userID, orderIDs)
	}
	return map[int64]int{}, nil
}
func (f *fakeStore) LatestEventTimesFor(ctx context.Context, orderIDs []int64) (map[int64]time.Time, error) {
	if f.latestEventTimesFn != nil {
		return f.latestEventTimesFn(ctx, orderIDs)
	}
	return map[int64]time.Time{}, nil
}
func (f *fakeStore) ListOrders(ctx context.Context, filter store.OrderFilter) ([]store.OrderListRow, error) {
	if f.listOrdersFn != nil {
		return f.listOrdersFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) CountOrders(ctx context.Context, filter store.OrderFilter) (int, error) {
	if f.countOrdersFn != nil {
		return f.countOrdersFn(ctx, filter)
	}
	return 0, nil
}
func (f *fakeStore) ListOwnedOrders(ctx context.Context, ownerID int64) ([]store.OrderListRow, error) {
	if f.listOwnedOrdersFn != nil {
		return f.listOwnedOrdersFn(ctx, ownerID)
	}
	return nil, nil
}
func (f *fakeStore) OrderSearchRow(ctx context.Context, orderID int64) (store.OrderListRow, error) {
	if f.orderSearchRowFn != nil {
		return f.orderSearchRowFn(ctx, orderID)
	}
	return store.OrderListRow{}, sql.ErrNoRows
}
func (f *fakeStore) ListOrderSearchRows(ctx context.Context) ([]store.OrderListRow, error) {
	if f.listOrderSearchRowsFn != nil {
		return f.listOrderSearchRowsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeNotifier struct {
	jobs []notify.Job
}

func (f *fakeNotifier) Enqueue(job notify.Job) {
	f.jobs = append(f.jobs, job)
}

type fakeSearcher struct {
	matchFn   func(q string) ([]int64, bool)
	indexed   []search.OrderRecord
	reindexed [][]search.OrderRecord
}

func (f *fakeSearcher) MatchOrderIDs(q string) ([]int64, bool) {
	if f.matchFn != nil {
		return f.matchFn(q)
	}
	return nil, false
}
func (f *fakeSearcher) IndexOrder(record search.OrderRecord) {
	f.indexed = append(f.indexed, record)
}
func (f *fakeSearcher) ReindexAll(records []search.OrderRecord) {
	f.reindexed = append(f.reindexed, records)
}

func newTestService(f *fakeStore, n notifier, se searcher) *Service {
	service := NewService(f, n, se, "https://portal.example.com")
	service.now = func() time.Time { return testNow }
	return service
}

func assertDomain(t *testing.T, err error, code string, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domainErr.Code != code || domainErr.Status != status {
		t.Fatalf("expected %s/%d, got %s/%d", code, status, domainErr.Code, domainErr.Status)
	}
}

func int64ptr(v int64) *int64 { return &v }

func openOrder(id, ownerID int64) store.Order {
	return store.Order{
		ID:        id,
		OwnerID:   ownerID,
		Status:    store.StatusPending,
		CreatedAt: testNow.Add(-48 * time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

func TestPostCommentRejectsInvalidInput(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)
	actor := identity.Actor{UserID: 5}

	_, err := service.PostComment(context.Background(), actor, 0, "hello", false)
	assertDomain(t, err, "VALIDATION_ERROR", 400)

	_, err = service.PostComment(context.Background(), identity.Actor{}, 1, "hello", false)
	assertDomain(t, err, "VALIDATION_ERROR", 400)

	_, err = service.PostComment(context.Background(), actor, 1, " \t\n\x00\u200b ", false)
	assertDomain(t, err, "VALIDATION_ERROR", 400)
}

func TestPostCommentMissingOrder(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)

	_, err := service.PostComment(context.Background(), identity.Actor{UserID: 5}, 42, "hello", false)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestPostCommentForbiddenForStranger(t *testing.T) {
	inserted := false
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		insertCommentFn: func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
			inserted = true
			return store.ThreadEvent{}, nil
		},
	}
	service := newTestService(f, nil, nil)

	_, err := service.PostComment(context.Background(), identity.Actor{UserID: 99}, 42, "hello", false)
	assertDomain(t, err, "FORBIDDEN", 403)
	if inserted {
		t.Fatal("comment must not be inserted for a forbidden actor")
	}
}

func TestPostCommentClosedOrder(t *testing.T) {
	for _, status := range []string{store.StatusComplete, store.StatusCancelled} {
		inserted := false
		f := &fakeStore{
			getOrderFn: func(context.Context, int64) (store.Order, error) {
				order := openOrder(42, 7)
				order.Status = status
				return order, nil
			},
			insertCommentFn: func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
				inserted = true
				return store.ThreadEvent{}, nil
			},
		}
		service := newTestService(f, nil, nil)

		_, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", false)
		assertDomain(t, err, "ORDER_CLOSED", 409)
		if inserted {
			t.Fatalf("status %s: comment must not be inserted on a closed order", status)
		}
	}
}

func TestPostCommentRateLimited(t *testing.T) {
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		insertCommentFn: func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
			return store.ThreadEvent{}, store.ErrRateLimited
		},
	}
	service := newTestService(f, nil, nil)

	_, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", false)
	assertDomain(t, err, "RATE_LIMITED", 429)
}

func TestPostCommentCustomerCannotRequireResponse(t *testing.T) {
	var gotRequires bool
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		insertCommentFn: func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
			gotRequires = requiresResponse
			return store.ThreadEvent{ID: 1, OrderID: orderID, CreatedAt: testNow}, nil
		},
	}
	service := newTestService(f, nil, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRequires {
		t.Fatal("requiresCustomerResponse must be forced false for non-admin authors")
	}
}

func TestPostCommentAdminRequiresResponse(t *testing.T) {
	var gotRequires bool
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		insertCommentFn: func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
			gotRequires = requiresResponse
			return store.ThreadEvent{ID: 1, OrderID: orderID, CreatedAt: testNow}, nil
		},
	}
	service := newTestService(f, nil, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, 42, "hello", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotRequires {
		t.Fatal("admin-requested requiresCustomerResponse must be honored")
	}
}

func TestPostCommentSanitizesBody(t *testing.T) {
	var gotBody string
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		insertCommentFn: func(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (store.ThreadEvent, error) {
			gotBody = body
			return store.ThreadEvent{ID: 1, OrderID: orderID, CreatedAt: testNow}, nil
		},
	}
	service := newTestService(f, nil, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "  hello\x00\n\n  world  ", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody != "hello world" {
		t.Fatalf("expected sanitized body %q, got %q", "hello world", gotBody)
	}
}

func TestPostCommentAdvancesAuthorReceipt(t *testing.T) {
	var gotUserID, gotOrderID int64
	var gotReadAt time.Time
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		upsertReadReceiptFn: func(ctx context.Context, userID, orderID int64, readAt time.Time) error {
			gotUserID, gotOrderID, gotReadAt = userID, orderID, readAt
			return nil
		},
	}
	service := newTestService(f, nil, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUserID != 7 || gotOrderID != 42 {
		t.Fatalf("receipt upserted for user %d order %d, want author 7 on order 42", gotUserID, gotOrderID)
	}
	if !gotReadAt.Equal(testNow) {
		t.Fatalf("watermark must land on the comment's createdAt, got %v", gotReadAt)
	}
}

func TestPostCommentSucceedsWhenReceiptUpsertFails(t *testing.T) {
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		upsertReadReceiptFn: func(ctx context.Context, userID, orderID int64, readAt time.Time) error {
			return errors.New("boom")
		},
	}
	service := newTestService(f, nil, nil)

	view, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", false)
	if err != nil {
		t.Fatalf("receipt failure must not fail the post: %v", err)
	}
	if view.ID != 1 {
		t.Fatalf("unexpected event view %+v", view)
	}
}

func TestPostCommentAdminNotifiesOwner(t *testing.T) {
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			order := openOrder(42, 7)
			order.AssignedAdminID = int64ptr(12)
			return order, nil
		},
	}
	notifier := &fakeNotifier{}
	service := newTestService(f, notifier, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, 42, "hello", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.jobs) != 1 {
		t.Fatalf("expected 1 notification job, got %d", len(notifier.jobs))
	}
	job := notifier.jobs[0]
	if job.TargetUserID != 7 {
		t.Fatalf("admin comments must notify the owner, got target %d", job.TargetUserID)
	}
	if job.Excerpt != "hello" {
		t.Fatalf("unexpected excerpt %q", job.Excerpt)
	}
	if job.ThreadURL != "https://portal.example.com/orders/42" {
		t.Fatalf("unexpected thread url %q", job.ThreadURL)
	}
}

func TestPostCommentCustomerNotifiesAssignedAdmin(t *testing.T) {
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			order := openOrder(42, 7)
			order.AssignedAdminID = int64ptr(12)
			return order, nil
		},
	}
	notifier := &fakeNotifier{}
	service := newTestService(f, notifier, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.jobs) != 1 || notifier.jobs[0].TargetUserID != 12 {
		t.Fatalf("customer comments must notify the assigned admin, got %+v", notifier.jobs)
	}
}

func TestPostCommentUnassignedOrderSkipsNotification(t *testing.T) {
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
	}
	notifier := &fakeNotifier{}
	service := newTestService(f, notifier, nil)

	if _, err := service.PostComment(context.Background(), identity.Actor{UserID: 7}, 42, "hello", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.jobs) != 0 {
		t.Fatalf("no notification expected when nobody is assigned, got %+v", notifier.jobs)
	}
}

func TestSetStatusRequiresAdmin(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)

	_, err := service.SetStatus(context.Background(), identity.Actor{UserID: 7}, 42, store.StatusComplete)
	assertDomain(t, err, "FORBIDDEN", 403)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)

	_, err := service.SetStatus(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, 42, "archived")
	assertDomain(t, err, "VALIDATION_ERROR", 400)
}

func TestSetStatusNotFound(t *testing.T) {
	f := &fakeStore{
		setOrderStatusFn: func(ctx context.Context, orderID int64, status string) (bool, error) {
			return false, nil
		},
	}
	service := newTestService(f, nil, nil)

	_, err := service.SetStatus(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, 42, store.StatusComplete)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSetStatusSuccess(t *testing.T) {
	var gotStatus string
	f := &fakeStore{
		setOrderStatusFn: func(ctx context.Context, orderID int64, status string) (bool, error) {
			gotStatus = status
			return true, nil
		},
	}
	service := newTestService(f, nil, nil)

	result, err := service.SetStatus(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, 42, store.StatusComplete)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID != 42 || result.Status != store.StatusComplete {
		t.Fatalf("unexpected result %+v", result)
	}
	if gotStatus != store.StatusComplete {
		t.Fatalf("unexpected stored status %q", gotStatus)
	}
}

func TestAssignValidatesAssignee(t *testing.T) {
	f := &fakeStore{
		getUserFn: func(ctx context.Context, userID int64) (store.User, error) {
			if userID == 99 {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: userID, IsAdmin: false}, nil
		},
	}
	service := newTestService(f, nil, nil)
	actor := identity.Actor{UserID: 12, IsAdmin: true}

	_, err := service.Assign(context.Background(), actor, 42, 99)
	assertDomain(t, err, "VALIDATION_ERROR", 400)

	_, err = service.Assign(context.Background(), actor, 42, 7)
	assertDomain(t, err, "VALIDATION_ERROR", 400)
}

func TestAssignSuccess(t *testing.T) {
	f := &fakeStore{
		getUserFn: func(ctx context.Context, userID int64) (store.User, error) {
			return store.User{ID: userID, IsAdmin: true}, nil
		},
	}
	service := newTestService(f, nil, nil)

	result, err := service.Assign(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, 42, 13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID != 42 || result.AssignedAdminID != 13 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestMarkReadAuthorizesViewer(t *testing.T) {
	var gotUserID int64
	var gotReadAt time.Time
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		upsertReadReceiptFn: func(ctx context.Context, userID, orderID int64, readAt time.Time) error {
			gotUserID = userID
			gotReadAt = readAt
			return nil
		},
	}
	service := newTestService(f, nil, nil)

	if err := service.MarkRead(context.Background(), identity.Actor{UserID: 7}, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUserID != 7 || !gotReadAt.Equal(testNow) {
		t.Fatalf("unexpected receipt write user=%d at=%v", gotUserID, gotReadAt)
	}

	err := service.MarkRead(context.Background(), identity.Actor{UserID: 99}, 42)
	assertDomain(t, err, "FORBIDDEN", 403)
}

func TestThreadReturnsOrderedEventsAndMarksRead(t *testing.T) {
	markedRead := false
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
		listThreadEventsFn: func(ctx context.Context, orderID int64) ([]store.ThreadEvent, error) {
			return []store.ThreadEvent{
				{ID: 1, OrderID: orderID, Body: "first", CreatedAt: testNow.Add(-2 * time.Hour)},
				{ID: 2, OrderID: orderID, Body: "second", CreatedAt: testNow.Add(-time.Hour)},
			}, nil
		},
		upsertReadReceiptFn: func(ctx context.Context, userID, orderID int64, readAt time.Time) error {
			markedRead = true
			return nil
		},
	}
	service := newTestService(f, nil, nil)

	thread, err := service.Thread(context.Background(), identity.Actor{UserID: 7}, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !thread.CanPost {
		t.Fatal("pending order must accept posts")
	}
	if len(thread.Updates) != 2 || thread.Updates[0].Body != "first" || thread.Updates[1].Body != "second" {
		t.Fatalf("unexpected updates %+v", thread.Updates)
	}
	if !markedRead {
		t.Fatal("viewing the thread must mark it read")
	}
}

func TestThreadForbiddenForStranger(t *testing.T) {
	f := &fakeStore{
		getOrderFn: func(context.Context, int64) (store.Order, error) {
			return openOrder(42, 7), nil
		},
	}
	service := newTestService(f, nil, nil)

	_, err := service.Thread(context.Background(), identity.Actor{UserID: 99}, 42)
	assertDomain(t, err, "FORBIDDEN", 403)
}

func TestListOrdersRequiresAdmin(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)

	_, err := service.ListOrders(context.Background(), identity.Actor{UserID: 7}, ListOrdersParams{})
	assertDomain(t, err, "FORBIDDEN", 403)
}

func TestListOrdersClampsPagination(t *testing.T) {
	var gotFilter store.OrderFilter
	f := &fakeStore{
		listOrdersFn: func(ctx context.Context, filter store.OrderFilter) ([]store.OrderListRow, error) {
			gotFilter = filter
			return nil, nil
		},
	}
	service := newTestService(f, nil, nil)
	actor := identity.Actor{UserID: 12, IsAdmin: true}

	result, err := service.ListOrders(context.Background(), actor, ListOrdersParams{Page: 0, PageSize: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilter.Limit != 100 || gotFilter.Offset != 0 {
		t.Fatalf("expected limit 100 offset 0, got %d/%d", gotFilter.Limit, gotFilter.Offset)
	}
	if result.Page != 1 || result.PageSize != 100 {
		t.Fatalf("unexpected page echo %d/%d", result.Page, result.PageSize)
	}

	if _, err := service.ListOrders(context.Background(), actor, ListOrdersParams{Page: 3, PageSize: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilter.Limit != 10 || gotFilter.Offset != 20 {
		t.Fatalf("expected limit 10 offset 20, got %d/%d", gotFilter.Limit, gotFilter.Offset)
	}
}

func TestListOrdersRejectsBadFilters(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)
	actor := identity.Actor{UserID: 12, IsAdmin: true}

	_, err := service.ListOrders(context.Background(), actor, ListOrdersParams{Status: "archived"})
	assertDomain(t, err, "VALIDATION_ERROR", 400)

	_, err = service.ListOrders(context.Background(), actor, ListOrdersParams{UpdatedWithin: "90d"})
	assertDomain(t, err, "VALIDATION_ERROR", 400)
}

func TestListOrdersUpdatedWithinWindow(t *testing.T) {
	var gotFilter store.OrderFilter
	f := &fakeStore{
		listOrdersFn: func(ctx context.Context, filter store.OrderFilter) ([]store.OrderListRow, error) {
			gotFilter = filter
			return nil, nil
		},
	}
	service := newTestService(f, nil, nil)

	if _, err := service.ListOrders(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, ListOrdersParams{UpdatedWithin: "24h"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotFilter.UpdatedAfter.Equal(testNow.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected updatedAfter %v", gotFilter.UpdatedAfter)
	}
}

func TestListOrdersEnrichment(t *testing.T) {
	latest := testNow.Add(-30 * time.Minute)
	f := &fakeStore{
		listOrdersFn: func(ctx context.Context, filter store.OrderFilter) ([]store.OrderListRow, error) {
			return []store.OrderListRow{
				{Order: openOrder(42, 7), CustomerName: "Ada", CustomerEmail: "ada@example.com", BusinessName: "Ada LLC"},
				{Order: openOrder(43, 8), CustomerName: "Bo", CustomerEmail: "bo@example.com"},
			}, nil
		},
		countOrdersFn: func(context.Context, store.OrderFilter) (int, error) {
			return 17, nil
		},
		unreadCountsFn: func(ctx context.Context, userID int64, orderIDs []int64) (map[int64]int, error) {
			if len(orderIDs) != 2 {
				t.Fatalf("unread counts must batch, got ids %v", orderIDs)
			}
			return map[int64]int{42: 3}, nil
		},
		latestEventTimesFn: func(ctx context.Context, orderIDs []int64) (map[int64]time.Time, error) {
			return map[int64]time.Time{42: latest}, nil
		},
	}
	service := newTestService(f, nil, nil)

	result, err := service.ListOrders(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, ListOrdersParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 17 {
		t.Fatalf("total must reflect the filtered set, got %d", result.Total)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	first := result.Rows[0]
	if first.UnreadCount != 3 {
		t.Fatalf("expected unread 3, got %d", first.UnreadCount)
	}
	if first.LatestEventAt == nil || !first.LatestEventAt.Equal(latest) {
		t.Fatalf("unexpected latestEventAt %v", first.LatestEventAt)
	}
	if first.AgeHours != 48 {
		t.Fatalf("expected ageHours 48, got %d", first.AgeHours)
	}
	second := result.Rows[1]
	if second.UnreadCount != 0 || second.LatestEventAt != nil {
		t.Fatalf("order without events must have zero unread and nil latest, got %+v", second)
	}
}

func TestListOrdersResolvesQueryThroughSearch(t *testing.T) {
	var gotFilter store.OrderFilter
	f := &fakeStore{
		listOrdersFn: func(ctx context.Context, filter store.OrderFilter) ([]store.OrderListRow, error) {
			gotFilter = filter
			return nil, nil
		},
	}
	se := &fakeSearcher{
		matchFn: func(q string) ([]int64, bool) {
			return []int64{42, 43}, true
		},
	}
	service := newTestService(f, nil, se)

	if _, err := service.ListOrders(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, ListOrdersParams{Query: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotFilter.MatchIDs) != 2 {
		t.Fatalf("expected search-resolved ids, got %+v", gotFilter.MatchIDs)
	}
}

func TestListOrdersFallsBackToSQLQuery(t *testing.T) {
	var gotFilter store.OrderFilter
	f := &fakeStore{
		listOrdersFn: func(ctx context.Context, filter store.OrderFilter) ([]store.OrderListRow, error) {
			gotFilter = filter
			return nil, nil
		},
	}
	se := &fakeSearcher{
		matchFn: func(q string) ([]int64, bool) {
			return nil, false
		},
	}
	service := newTestService(f, nil, se)

	if _, err := service.ListOrders(context.Background(), identity.Actor{UserID: 12, IsAdmin: true}, ListOrdersParams{Query: "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilter.MatchIDs != nil || gotFilter.Query != "ada" {
		t.Fatalf("expected sql fallback on query, got %+v", gotFilter)
	}
}

func TestInboxReturnsOwnedOrdersWithBadges(t *testing.T) {
	f := &fakeStore{
		listOwnedOrdersFn: func(ctx context.Context, ownerID int64) ([]store.OrderListRow, error) {
			if ownerID != 7 {
				t.Fatalf("inbox must list the actor's own orders, got owner %d", ownerID)
			}
			return []store.OrderListRow{{Order: openOrder(42, 7), CustomerName: "Ada"}}, nil
		},
		unreadCountsFn: func(ctx context.Context, userID int64, orderIDs []int64) (map[int64]int, error) {
			if userID != 7 {
				t.Fatalf("unread counts must use the viewer's receipts, got user %d", userID)
			}
			return map[int64]int{42: 2}, nil
		},
	}
	service := newTestService(f, nil, nil)

	rows, err := service.Inbox(context.Background(), identity.Actor{UserID: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].UnreadCount != 2 {
		t.Fatalf("unexpected inbox rows %+v", rows)
	}
}

func TestBootstrapReindexesOrders(t *testing.T) {
	f := &fakeStore{
		listOrderSearchRowsFn: func(context.Context) ([]store.OrderListRow, error) {
			return []store.OrderListRow{{Order: openOrder(42, 7), CustomerName: "Ada"}}, nil
		},
	}
	se := &fakeSearcher{}
	service := newTestService(f, nil, se)

	if err := service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(se.reindexed) != 1 || len(se.reindexed[0]) != 1 || se.reindexed[0][0].ID != 42 {
		t.Fatalf("unexpected reindex payload %+v", se.reindexed)
	}
}
