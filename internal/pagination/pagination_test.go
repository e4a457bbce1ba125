package pagination

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type row struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&row{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   Params
		want Params
	}{
		{Params{}, Params{Page: 1, PerPage: DefaultPerPage}},
		{Params{Page: -3, PerPage: 5}, Params{Page: 1, PerPage: 5}},
		{Params{Page: 2, PerPage: 1000}, Params{Page: 2, PerPage: MaxPerPage}},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFind_Pages(t *testing.T) {
	db := openTestDB(t)
	for i := 1; i <= 45; i++ {
		db.Create(&row{Name: fmt.Sprintf("r%d", i)})
	}

	res, err := Find[row](db.Model(&row{}), "id ASC", Params{Page: 3})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Total != 45 {
		t.Errorf("Total = %d, want 45", res.Total)
	}
	if res.LastPage != 3 {
		t.Errorf("LastPage = %d, want 3", res.LastPage)
	}
	if len(res.Data) != 5 {
		t.Fatalf("len(Data) = %d, want 5", len(res.Data))
	}
	if res.Data[0].ID != 41 {
		t.Errorf("first row ID = %d, want 41", res.Data[0].ID)
	}
}

func TestFind_Empty(t *testing.T) {
	db := openTestDB(t)
	res, err := Find[row](db.Model(&row{}), "", Params{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Total != 0 || res.LastPage != 1 || res.Data == nil {
		t.Errorf("empty result = %+v, want total 0, last page 1, non-nil data", res)
	}
}
