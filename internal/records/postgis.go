package records

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostGIS mirrors reports into a PostGIS table, one row per report.
type PostGIS struct {
	db *gorm.DB
}

// reportRow is the table layout; geom is written through ST_GeomFromEWKT.
type reportRow struct {
	ID          uint      `gorm:"primaryKey"`
	Photo       string    `gorm:"not null"`
	Category    string    `gorm:"index;not null"`
	Description string    `gorm:"type:text"`
	ReportedAt  string    `gorm:"not null"`
	Latitude    float64   `gorm:"not null"`
	Longitude   float64   `gorm:"not null"`
	Geom        string    `gorm:"type:geometry(Point,4326);not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (reportRow) TableName() string { return "segnalazioni" }

// ConnectPostGIS opens Postgres with retry and ensures the schema.
func ConnectPostGIS(dsn string, attempts int, delay time.Duration) (*PostGIS, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			if err := bootstrap(db); err != nil {
				return nil, err
			}
			return &PostGIS{db: db}, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("postgis connect failed after %d attempts: %w", attempts, lastErr)
}

func bootstrap(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
		return err
	}
	return db.AutoMigrate(&reportRow{})
}

func (p *PostGIS) Append(ctx context.Context, r Report) error {
	return p.db.WithContext(ctx).Exec(
		"INSERT INTO segnalazioni (photo, category, description, reported_at, latitude, longitude, geom, created_at) VALUES (?, ?, ?, ?, ?, ?, ST_GeomFromEWKT(?), ?)",
		r.Photo, r.Category, r.Description, r.Timestamp, r.Latitude, r.Longitude, PointEWKT(r.Longitude, r.Latitude), time.Now().UTC(),
	).Error
}

// PointEWKT renders an EPSG:4326 point, longitude first.
func PointEWKT(lon, lat float64) string {
	return "SRID=4326;POINT(" + strconv.FormatFloat(lon, 'f', -1, 64) + " " + strconv.FormatFloat(lat, 'f', -1, 64) + ")"
}
