package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func searchColumns() []string {
	return []string{
		"id", "tenant_id", "enabled", "doctor_name", "specialty", "photo_url", "credentials",
		"price_cents", "languages", "lat", "lng", "address", "schedule", "rating_avg",
		"rating_count", "created_at", "updated_at", "distance_km",
	}
}

func TestStoreSearch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) distance_km").
		WithArgs(19.4326, -99.1332, "dermatología", 5.0, 20).
		WillReturnRows(pgxmock.NewRows(searchColumns()).AddRow(
			"prof-1", "acct-1", true, "Dra. García", "dermatología", "", "Ced. 12345",
			int64(50000), []string{"es", "en"}, 19.43, -99.14, "Av. Reforma 100",
			[]byte(`{"mon":["09:00-14:00"]}`), 4.8,
			25, now, now, 1.2,
		))

	results, err := store.Search(context.Background(), SearchParams{
		Lat: 19.4326, Lng: -99.1332, RadiusKM: 5, Specialty: "dermatología",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.ID != "prof-1" || r.DoctorName != "Dra. García" {
		t.Fatalf("unexpected profile: %+v", r.Profile)
	}
	if r.DistanceKM != 1.2 {
		t.Errorf("distance = %v, want 1.2", r.DistanceKM)
	}
	if len(r.Schedule["mon"]) != 1 {
		t.Errorf("schedule lost in scan: %+v", r.Schedule)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreSearchClampsRadiusAndLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)

	// Radius 0 defaults to 10; radius 500 caps at 100.
	mock.ExpectQuery("SELECT (.+) distance_km").
		WithArgs(0.0, 0.0, "", 10.0, 20).
		WillReturnRows(pgxmock.NewRows(searchColumns()))
	if _, err := store.Search(context.Background(), SearchParams{}); err != nil {
		t.Fatalf("Search default radius: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) distance_km").
		WithArgs(0.0, 0.0, "", 100.0, 20).
		WillReturnRows(pgxmock.NewRows(searchColumns()))
	if _, err := store.Search(context.Background(), SearchParams{RadiusKM: 500}); err != nil {
		t.Fatalf("Search capped radius: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)

	mock.ExpectQuery("SELECT (.+) FROM directory_profiles WHERE id").
		WithArgs("prof-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "prof-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreRecordRatingValidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithDB(mock)

	if err := store.RecordRating(context.Background(), "prof-1", 0); err == nil {
		t.Fatal("rating 0 must be rejected")
	}
	if err := store.RecordRating(context.Background(), "prof-1", 6); err == nil {
		t.Fatal("rating 6 must be rejected")
	}

	mock.ExpectExec("UPDATE directory_profiles").
		WithArgs(5, "prof-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.RecordRating(context.Background(), "prof-1", 5); err != nil {
		t.Fatalf("RecordRating: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
