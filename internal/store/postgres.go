package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrRateLimited is returned by InsertComment when the rate-bucket unique
// index rejects the row: the author already posted a comment on this order
// within the same one-second bucket.
var ErrRateLimited = errors.New("comment rate limit exceeded")

const rateBucketConstraint = "thread_events_comment_bucket_key"

const orderColumns = `o.id, o.owner_id, o.status, o.assigned_admin_id, o.created_at, o.updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, business_name, is_admin, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.BusinessName, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UserByID satisfies the notification dispatcher's directory lookup.
func (s *PostgresStore) UserByID(ctx context.Context, userID int64) (User, error) {
	return s.GetUser(ctx, userID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	var item Order
	err := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE o.id=$1
	`, orderID).Scan(&item.ID, &item.OwnerID, &item.Status, &item.AssignedAdminID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	return item, nil
}

// InsertComment appends an authored comment to the order's thread. The
// insert races against concurrent writers at the rate-bucket unique index;
// the loser comes back as ErrRateLimited.
func (s *PostgresStore) InsertComment(ctx context.Context, orderID, authorID int64, body string, requiresResponse bool) (ThreadEvent, error) {
	event := ThreadEvent{
		OrderID:                  orderID,
		AuthorUserID:             &authorID,
		Body:                     body,
		Source:                   SourceWeb,
		EventType:                EventComment,
		RequiresCustomerResponse: requiresResponse,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO thread_events (order_id, author_user_id, body, source, event_type, requires_customer_response)
		VALUES ($1, $2, $3, 'web', 'comment', $4)
		RETURNING id, created_at
	`, orderID, authorID, body, requiresResponse).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == rateBucketConstraint {
			return ThreadEvent{}, ErrRateLimited
		}
		return ThreadEvent{}, fmt.Errorf("insert comment: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListThreadEvents(ctx context.Context, orderID int64) ([]ThreadEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, author_user_id, body, source, event_type, requires_customer_response, created_at, edited_at
		FROM thread_events
		WHERE order_id=$1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list thread events: %w", err)
	}
	defer rows.Close()

	items := make([]ThreadEvent, 0)
	for rows.Next() {
		var item ThreadEvent
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.AuthorUserID,
			&item.Body,
			&item.Source,
			&item.EventType,
			&item.RequiresCustomerResponse,
			&item.CreatedAt,
			&item.EditedAt,
		); err != nil {
			return nil, fmt.Errorf("scan thread event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread events: %w", err)
	}
	return items, nil
}

// SetOrderStatus updates the order's status and appends the matching system
// event in one transaction. Returns false when no order row matched.
func (s *PostgresStore) SetOrderStatus(ctx context.Context, orderID int64, status string) (bool, error) {
	return s.mutateWithAudit(ctx, orderID,
		`UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, status,
		"Status changed to "+status)
}

// AssignOrder updates the order's assigned admin and appends the matching
// system event in one transaction. Returns false when no order row matched.
func (s *PostgresStore) AssignOrder(ctx context.Context, orderID, adminID int64) (bool, error) {
	return s.mutateWithAudit(ctx, orderID,
		`UPDATE orders SET assigned_admin_id=$2, updated_at=NOW() WHERE id=$1`, adminID,
		fmt.Sprintf("Assigned to admin #%d", adminID))
}

// mutateWithAudit runs an order UPDATE and the system thread event it must
// stay consistent with inside a single transaction. Either both commit or
// neither does.
func (s *PostgresStore) mutateWithAudit(ctx context.Context, orderID int64, updateSQL string, updateArg any, auditBody string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin order mutation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, updateSQL, orderID, updateArg)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order rows: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO thread_events (order_id, body, source, event_type)
		VALUES ($1, $2, 'system', 'status')
	`, orderID, auditBody); err != nil {
		return false, fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit order mutation: %w", err)
	}
	return true, nil
}

// UpsertReadReceipt moves the (user, order) watermark forward. GREATEST
// keeps the update monotonic under concurrent readers.
func (s *PostgresStore) UpsertReadReceipt(ctx context.Context, userID, orderID int64, readAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_receipts (user_id, order_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, order_id)
		DO UPDATE SET last_read_at = GREATEST(read_receipts.last_read_at, EXCLUDED.last_read_at)
	`, userID, orderID, readAt)
	if err != nil {
		return fmt.Errorf("upsert read receipt: %w", err)
	}
	return nil
}

// UnreadCountsFor returns, per order, how many events postdate the viewer's
// watermark. Orders with no receipt count every event. One round trip for
// any number of orders.
func (s *PostgresStore) UnreadCountsFor(ctx context.Context, userID int64, orderIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(orderIDs))
	if len(orderIDs) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.order_id, COUNT(*)::int
		FROM thread_events e
		LEFT JOIN read_receipts r ON r.order_id = e.order_id AND r.user_id = $1
		WHERE e.order_id = ANY($2)
		  AND (r.last_read_at IS NULL OR e.created_at > r.last_read_at)
		GROUP BY e.order_id
	`, userID, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var count int
		if err := rows.Scan(&orderID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[orderID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread counts: %w", err)
	}
	return counts, nil
}

// LatestEventTimesFor returns each order's most recent event timestamp in a
// single round trip. Orders without events are absent from the map.
func (s *PostgresStore) LatestEventTimesFor(ctx context.Context, orderIDs []int64) (map[int64]time.Time, error) {
	latest := make(map[int64]time.Time, len(orderIDs))
	if len(orderIDs) == 0 {
		return latest, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, MAX(created_at)
		FROM thread_events
		WHERE order_id = ANY($1)
		GROUP BY order_id
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("latest event times: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var at time.Time
		if err := rows.Scan(&orderID, &at); err != nil {
			return nil, fmt.Errorf("scan latest event time: %w", err)
		}
		latest[orderID] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest event times: %w", err)
	}
	return latest, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]OrderListRow, error) {
	whereSQL, args := buildOrderWhere(filter)

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`, u.name, u.email, u.business_name
		FROM orders o
		JOIN users u ON u.id = o.owner_id
		`+whereSQL+`
		ORDER BY o.updated_at DESC, o.id DESC
		LIMIT $`+itoa(len(args)-1)+` OFFSET $`+itoa(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

// CountOrders returns the size of the filtered set, ignoring pagination.
func (s *PostgresStore) CountOrders(ctx context.Context, filter OrderFilter) (int, error) {
	whereSQL, args := buildOrderWhere(filter)

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders o
		JOIN users u ON u.id = o.owner_id
		`+whereSQL,
		args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListOwnedOrders(ctx context.Context, ownerID int64) ([]OrderListRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`, u.name, u.email, u.business_name
		FROM orders o
		JOIN users u ON u.id = o.owner_id
		WHERE o.owner_id=$1
		ORDER BY o.updated_at DESC, o.id DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owned orders: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

// OrderSearchRow loads one order with its customer fields, for refreshing
// the search index after a mutation.
func (s *PostgresStore) OrderSearchRow(ctx context.Context, orderID int64) (OrderListRow, error) {
	var item OrderListRow
	err := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`, u.name, u.email, u.business_name
		FROM orders o
		JOIN users u ON u.id = o.owner_id
		WHERE o.id=$1
	`, orderID).Scan(
		&item.ID,
		&item.OwnerID,
		&item.Status,
		&item.AssignedAdminID,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.CustomerName,
		&item.CustomerEmail,
		&item.BusinessName,
	)
	if err != nil {
		return OrderListRow{}, err
	}
	return item, nil
}

// ListOrderSearchRows loads every order with its customer fields, for
// seeding the search index.
func (s *PostgresStore) ListOrderSearchRows(ctx context.Context) ([]OrderListRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`, u.name, u.email, u.business_name
		FROM orders o
		JOIN users u ON u.id = o.owner_id
		ORDER BY o.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list order search rows: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

func scanOrderRows(rows *sql.Rows) ([]OrderListRow, error) {
	items := make([]OrderListRow, 0)
	for rows.Next() {
		var item OrderListRow
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.Status,
			&item.AssignedAdminID,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.CustomerName,
			&item.CustomerEmail,
			&item.BusinessName,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return items, nil
}

// buildOrderWhere composes the WHERE clause and args shared by ListOrders
// and CountOrders.
func buildOrderWhere(filter OrderFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if s := strings.TrimSpace(filter.Status); s != "" {
		args = append(args, s)
		clauses = append(clauses, "o.status = $"+itoa(len(args)))
	}

	switch assigned := strings.TrimSpace(filter.AssignedTo); assigned {
	case "":
	case "none":
		clauses = append(clauses, "o.assigned_admin_id IS NULL")
	case "me":
		args = append(args, filter.ViewerAdminID)
		clauses = append(clauses, "o.assigned_admin_id = $"+itoa(len(args)))
	default:
		if adminID, err := strconv.ParseInt(assigned, 10, 64); err == nil {
			args = append(args, adminID)
			clauses = append(clauses, "o.assigned_admin_id = $"+itoa(len(args)))
		}
	}

	if !filter.UpdatedAfter.IsZero() {
		args = append(args, filter.UpdatedAfter)
		clauses = append(clauses, "o.updated_at >= $"+itoa(len(args)))
	}

	if filter.MatchIDs != nil {
		args = append(args, filter.MatchIDs)
		clauses = append(clauses, "o.id = ANY($"+itoa(len(args))+")")
	} else if q := strings.TrimSpace(filter.Query); q != "" {
		p := "%" + q + "%"
		args = append(args, p, p, p)
		clauses = append(clauses,
			"(u.name ILIKE $"+itoa(len(args)-2)+
				" OR u.email ILIKE $"+itoa(len(args)-1)+
				" OR u.business_name ILIKE $"+itoa(len(args))+")")
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func itoa(i int) string { return strconv.Itoa(i) }
