package dashboard

import (
	"testing"
	"time"

	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	if err := db.AutoMigrate(&models.User{}, &models.Lead{}, &models.Conversation{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, rows ...interface{}) {
	t.Helper()
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	lastMonth := now.AddDate(0, -1, -1)

	seed(t, db,
		&models.Lead{Phone: "1", Status: "novo"},
		&models.Lead{Phone: "2", Status: "novo"},
		&models.Lead{Phone: "3", Status: "em_atendimento"},
		&models.Lead{Phone: "4", Status: "qualificado"},
		&models.Lead{Phone: "5", Status: "fechado"},
		&models.Conversation{Phone: "1", Status: "ativa", StartedAt: now, LastActivity: now},
		&models.Conversation{Phone: "2", Status: "aguardando_corretor", StartedAt: lastMonth, LastActivity: now},
		&models.Conversation{Phone: "3", Status: "finalizada", StartedAt: lastMonth, LastActivity: lastMonth},
		&models.User{Name: "C1", Email: "c1@lar", PasswordHash: "x", Role: "corretor", Active: true},
		&models.User{Name: "C2", Email: "c2@lar", PasswordHash: "x", Role: "corretor", Active: false},
		&models.User{Name: "A", Email: "a@lar", PasswordHash: "x", Role: "admin", Active: true},
	)
	// A deal closed last month does not count.
	db.Create(&models.Lead{Phone: "6", Status: "fechado"})
	db.Model(&models.Lead{}).Where("phone = ?", "6").UpdateColumn("updated_at", lastMonth)

	s, err := GetStats(db, now)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	want := LeadCounts{Total: 6, Novos: 2, EmAtendimento: 1, Qualificados: 1, FechadosMes: 1}
	if s.Leads != want {
		t.Errorf("leads = %+v, want %+v", s.Leads, want)
	}
	if s.Conversas != (ConversationCounts{Ativas: 1, Hoje: 1, Aguardando: 1}) {
		t.Errorf("conversas = %+v", s.Conversas)
	}
	if s.Corretores.Total != 1 {
		t.Errorf("corretores = %d, want 1", s.Corretores.Total)
	}
}

func TestActivities(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	l := &models.Lead{Phone: "+551", Name: "Carla"}
	seed(t, db, l)
	seed(t, db,
		&models.Conversation{Phone: "+550", StartedAt: now.Add(-time.Hour), LastActivity: now},
		&models.Conversation{Phone: "+551", LeadID: &l.ID, StartedAt: now, LastActivity: now},
	)

	acts, err := Activities(db, 0)
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("len = %d", len(acts))
	}
	if acts[0].Description != "Nova conversa iniciada com Carla" || acts[0].Data.LeadID == nil {
		t.Errorf("first = %+v", acts[0])
	}
	if acts[1].Description != "Nova conversa iniciada com +550" {
		t.Errorf("second = %+v", acts[1])
	}
}

func TestConversationsPerDay(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	seed(t, db,
		&models.Conversation{Phone: "1", StartedAt: now, LastActivity: now},
		&models.Conversation{Phone: "2", StartedAt: now.Add(-2 * time.Hour), LastActivity: now},
		&models.Conversation{Phone: "3", StartedAt: now.AddDate(0, 0, -6), LastActivity: now},
		&models.Conversation{Phone: "4", StartedAt: now.AddDate(0, 0, -8), LastActivity: now},
	)

	days, err := ConversationsPerDay(db, now, 7)
	if err != nil {
		t.Fatalf("ConversationsPerDay: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("len = %d, want 7", len(days))
	}
	if days[0].Date != "2026-03-04" || days[0].Total != 1 {
		t.Errorf("first = %+v", days[0])
	}
	if days[6].Date != "2026-03-10" || days[6].Total != 2 {
		t.Errorf("last = %+v", days[6])
	}
	var sum int64
	for _, d := range days {
		sum += d.Total
	}
	if sum != 3 {
		t.Errorf("sum = %d, want 3", sum)
	}
}
