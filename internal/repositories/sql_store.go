package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"shuttle/internal/db"
	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
)

const mysqlDuplicateEntry = 1062

// SQLStore is the MySQL-backed Store.
type SQLStore struct {
	sqlQueries
	DB  *sql.DB
	Log *zap.Logger
}

func NewSQLStore(conn *sql.DB, log *zap.Logger) *SQLStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore{sqlQueries: sqlQueries{q: conn}, DB: conn, Log: log}
}

func (s *SQLStore) Tx(ctx context.Context, fn func(q Queries) error) error {
	return db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		return fn(sqlQueries{q: tx})
	})
}

var schema = []struct {
	table string
	ddl   string
}{
	{"cities", `CREATE TABLE IF NOT EXISTS cities (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		center_lat DOUBLE NOT NULL,
		center_lng DOUBLE NOT NULL,
		pickup_radius_km DOUBLE NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id CHAR(36) PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"journeys", `CREATE TABLE IF NOT EXISTS journeys (
		id CHAR(36) PRIMARY KEY,
		origin_city_id BIGINT NOT NULL,
		destination_city_id BIGINT NOT NULL,
		departure_time DATETIME(6) NOT NULL,
		total_seats INT NOT NULL,
		driver_id CHAR(36) NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_journeys_driver (driver_id),
		INDEX idx_journeys_departure (departure_time),
		FOREIGN KEY (origin_city_id) REFERENCES cities(id),
		FOREIGN KEY (destination_city_id) REFERENCES cities(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"bookings", `CREATE TABLE IF NOT EXISTS bookings (
		id CHAR(36) PRIMARY KEY,
		journey_id CHAR(36) NOT NULL,
		user_id CHAR(36) NOT NULL,
		seats INT NOT NULL,
		pickup_lat DOUBLE NOT NULL,
		pickup_lng DOUBLE NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		cancelled_at DATETIME(6) NULL,
		INDEX idx_bookings_journey_status (journey_id, status),
		INDEX idx_bookings_user (user_id),
		FOREIGN KEY (journey_id) REFERENCES journeys(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

// EnsureSchema creates missing tables and seeds the reference cities.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, t := range schema {
		if db.HasTable(ctx, s.DB, t.table) {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.table, err)
		}
		s.Log.Info("table created", zap.String("table", t.table))
	}
	for _, c := range DefaultCities {
		_, err := s.DB.ExecContext(ctx,
			`INSERT IGNORE INTO cities (name, center_lat, center_lng, pickup_radius_km) VALUES (?,?,?,?)`,
			c.Name, c.CenterLat, c.CenterLng, c.PickupRadiusKm)
		if err != nil {
			return fmt.Errorf("seed city %s: %w", c.Name, err)
		}
	}
	return nil
}

type sqlQueries struct {
	q db.DBTX
}

const (
	userColumns    = `id, email, name, role, password_hash, created_at`
	journeyColumns = `id, origin_city_id, destination_city_id, departure_time, total_seats, driver_id, created_at`
	bookingColumns = `id, journey_id, user_id, seats, pickup_lat, pickup_lng, status, created_at, cancelled_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return u, err
	}
	u.Role = domain.Role(role)
	return u, nil
}

func scanJourney(row scanner) (models.Journey, error) {
	var j models.Journey
	var driver sql.NullString
	if err := row.Scan(&j.ID, &j.OriginCityID, &j.DestinationCityID, &j.DepartureTime, &j.TotalSeats, &driver, &j.CreatedAt); err != nil {
		return j, err
	}
	if driver.Valid && driver.String != "" {
		id := driver.String
		j.DriverID = &id
	}
	j.DepartureTime = j.DepartureTime.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	return j, nil
}

func scanBooking(row scanner) (models.Booking, error) {
	var b models.Booking
	var status string
	var cancelled sql.NullTime
	if err := row.Scan(&b.ID, &b.JourneyID, &b.UserID, &b.Seats, &b.PickupLat, &b.PickupLng, &status, &b.CreatedAt, &cancelled); err != nil {
		return b, err
	}
	b.Status = models.BookingStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()
	if cancelled.Valid {
		t := cancelled.Time.UTC()
		b.CancelledAt = &t
	}
	return b, nil
}

func (r sqlQueries) GetCity(ctx context.Context, id int64) (models.City, error) {
	var c models.City
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, center_lat, center_lng, pickup_radius_km FROM cities WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.CenterLat, &c.CenterLng, &c.PickupRadiusKm)
	if errors.Is(err, sql.ErrNoRows) {
		return c, cityNotFound()
	}
	return c, err
}

func (r sqlQueries) ListCities(ctx context.Context) ([]models.City, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, center_lat, center_lng, pickup_radius_km FROM cities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.City{}
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.ID, &c.Name, &c.CenterLat, &c.CenterLng, &c.PickupRadiusKm); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r sqlQueries) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, userNotFound(id)
	}
	return u, err
}

func (r sqlQueries) GetUserForUpdate(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, userNotFound(id)
	}
	return u, err
}

func (r sqlQueries) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return u, userNotFound(email)
	}
	return u, err
}

func (r sqlQueries) ListUsers(ctx context.Context, role domain.Role) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r sqlQueries) InsertUser(ctx context.Context, u models.User) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.CreatedAt)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return domain.ConflictError{Resource: "user", Msg: u.Email, Err: domain.ErrEmailTaken}
	}
	return err
}

func (r sqlQueries) UpdateUserRole(ctx context.Context, id string, role domain.Role) error {
	res, err := r.q.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, string(role), id)
	if err != nil {
		return err
	}
	return requireMatched(ctx, r, res, "users", id, userNotFound(id))
}

func (r sqlQueries) DeleteUser(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, userNotFound(id))
}

func (r sqlQueries) GetJourney(ctx context.Context, id string, forUpdate bool) (models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id=?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	j, err := scanJourney(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return j, journeyNotFound(id)
	}
	return j, err
}

func (r sqlQueries) ListJourneys(ctx context.Context, f models.JourneyFilter) ([]models.Journey, error) {
	where := []string{}
	args := []any{}
	if f.DriverID != "" {
		where = append(where, "driver_id=?")
		args = append(args, f.DriverID)
	}
	if f.DepartingAfter != nil {
		where = append(where, "departure_time>?")
		args = append(args, f.DepartingAfter.UTC())
	}
	query := `SELECT ` + journeyColumns + ` FROM journeys`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY departure_time, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Journey{}
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r sqlQueries) InsertJourney(ctx context.Context, j models.Journey) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO journeys (`+journeyColumns+`) VALUES (?,?,?,?,?,?,?)`,
		j.ID, j.OriginCityID, j.DestinationCityID, j.DepartureTime.UTC(), j.TotalSeats, db.NullString(j.DriverID), j.CreatedAt.UTC())
	return err
}

func (r sqlQueries) UpdateJourney(ctx context.Context, j models.Journey) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE journeys SET origin_city_id=?, destination_city_id=?, departure_time=?, total_seats=? WHERE id=?`,
		j.OriginCityID, j.DestinationCityID, j.DepartureTime.UTC(), j.TotalSeats, j.ID)
	if err != nil {
		return err
	}
	return requireMatched(ctx, r, res, "journeys", j.ID, journeyNotFound(j.ID))
}

func (r sqlQueries) DeleteJourney(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM journeys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, journeyNotFound(id))
}

func (r sqlQueries) SetJourneyDriver(ctx context.Context, journeyID string, driverID *string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE journeys SET driver_id=? WHERE id=?`, db.NullString(driverID), journeyID)
	if err != nil {
		return err
	}
	return requireMatched(ctx, r, res, "journeys", journeyID, journeyNotFound(journeyID))
}

func (r sqlQueries) ClearDriverForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM journeys WHERE driver_id=? ORDER BY id FOR UPDATE`, userID)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	if _, err := r.q.ExecContext(ctx, `UPDATE journeys SET driver_id=NULL WHERE driver_id=?`, userID); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r sqlQueries) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	b, err := scanBooking(r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return b, bookingNotFound(id)
	}
	return b, err
}

func (r sqlQueries) FindActiveBooking(ctx context.Context, journeyID, userID string) (models.Booking, bool, error) {
	b, err := scanBooking(r.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE journey_id=? AND user_id=? AND status=? LIMIT 1`,
		journeyID, userID, string(models.BookingActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return b, false, nil
	}
	if err != nil {
		return b, false, err
	}
	return b, true, nil
}

func (r sqlQueries) InsertBooking(ctx context.Context, b models.Booking) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		b.ID, b.JourneyID, b.UserID, b.Seats, b.PickupLat, b.PickupLng, string(b.Status), b.CreatedAt.UTC(), nullTime(b))
	return err
}

func (r sqlQueries) UpdateBooking(ctx context.Context, b models.Booking) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE bookings SET seats=?, pickup_lat=?, pickup_lng=?, status=?, cancelled_at=? WHERE id=?`,
		b.Seats, b.PickupLat, b.PickupLng, string(b.Status), nullTime(b), b.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, bookingNotFound(b.ID))
}

func nullTime(b models.Booking) any {
	if b.CancelledAt == nil {
		return nil
	}
	return b.CancelledAt.UTC()
}

func bookingWhere(f models.BookingFilter) (string, []any) {
	where := []string{}
	args := []any{}
	if f.JourneyID != "" {
		where = append(where, "journey_id=?")
		args = append(args, f.JourneyID)
	}
	if f.UserID != "" {
		where = append(where, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.ActiveOnly {
		where = append(where, "status=?")
		args = append(args, string(models.BookingActive))
	}
	if len(where) == 0 {
		return "", args
	}
	return ` WHERE ` + strings.Join(where, " AND "), args
}

func (r sqlQueries) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	where, args := bookingWhere(f)
	rows, err := r.q.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r sqlQueries) DeleteBookings(ctx context.Context, f models.BookingFilter) (int, error) {
	where, args := bookingWhere(f)
	if where == "" {
		return 0, domain.InternalError{Msg: "refusing to delete bookings without a filter", Err: domain.ErrInvariantViolation}
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM bookings`+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r sqlQueries) ListPassengers(ctx context.Context, journeyID string) ([]models.PassengerPickup, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT b.id, u.name, b.seats, b.pickup_lat, b.pickup_lng
		FROM bookings b
		JOIN users u ON u.id = b.user_id
		WHERE b.journey_id=? AND b.status=?
		ORDER BY b.created_at, b.id`, journeyID, string(models.BookingActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PassengerPickup{}
	for rows.Next() {
		var p models.PassengerPickup
		if err := rows.Scan(&p.BookingID, &p.PassengerName, &p.Seats, &p.PickupLat, &p.PickupLng); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r sqlQueries) ReservedSeats(ctx context.Context, journeyID string) (int, error) {
	var total sql.NullInt64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seats),0) FROM bookings WHERE journey_id=? AND status=?`,
		journeyID, string(models.BookingActive)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// requireMatched handles MySQL reporting 0 affected rows when an UPDATE changes nothing.
func requireMatched(ctx context.Context, r sqlQueries, res sql.Result, table, id string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return err
}
