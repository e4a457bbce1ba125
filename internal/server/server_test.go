package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/larcrm/internal/catalog"
	"github.com/zulandar/larcrm/internal/conversation"
	"github.com/zulandar/larcrm/internal/intake"
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
	if err := db.AutoMigrate(
		&models.User{}, &models.Lead{}, &models.Conversation{}, &models.Message{},
		&models.Property{}, &models.PropertyImage{}, &models.LeadPropertyMatch{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type fakeIntake struct {
	mu  sync.Mutex
	got []intake.Inbound
	err error
}

func (f *fakeIntake) HandleInbound(ctx context.Context, in intake.Inbound) (*intake.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	if f.err != nil {
		return nil, f.err
	}
	return &intake.Result{Success: true, Message: "mensagem processada", Stage: "coleta_dados"}, nil
}

type fakeSender struct {
	to, body string
	err      error
}

func (f *fakeSender) Send(ctx context.Context, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.to, f.body = to, body
	return "SMagent1", nil
}

type fakeSync struct {
	calls []catalog.RunOpts
	err   error
}

func (f *fakeSync) Start(ctx context.Context, opts catalog.RunOpts) error {
	f.calls = append(f.calls, opts)
	return f.err
}

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
	intake *fakeIntake
	sender *fakeSender
	sync   *fakeSync
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		db:     openTestDB(t),
		intake: &fakeIntake{},
		sender: &fakeSender{},
		sync:   &fakeSync{},
	}
	router, err := NewRouter(context.Background(), Opts{
		DB:      ts.db,
		AppName: "Exclusiva Lar CRM",
		Version: "test",
		Intake:  ts.intake,
		Sender:  ts.sender,
		Sync:    ts.sync,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	ts.router = router
	return ts
}

func (ts *testServer) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) seed(t *testing.T, rows ...interface{}) {
	t.Helper()
	for _, r := range rows {
		if err := ts.db.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Total   int             `json:"total"`
	Data    json.RawMessage `json:"data"`
	Result  json.RawMessage `json:"result"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

func TestNewRouter_Validation(t *testing.T) {
	if _, err := NewRouter(context.Background(), Opts{Intake: &fakeIntake{}}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v, want db is required", err)
	}
	if _, err := NewRouter(context.Background(), Opts{DB: openTestDB(t)}); err == nil {
		t.Error("expected error without intake handler")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("GET", "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "online" || body["app"] != "Exclusiva Lar CRM" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestWebhook_TwilioForm(t *testing.T) {
	ts := newTestServer(t)
	form := url.Values{"From": {"whatsapp:+5531999990000"}, "Body": {"oi"}, "MessageSid": {"SM1"}, "ProfileName": {"Ana"}}

	w := ts.do("POST", "/webhook/whatsapp", "application/x-www-form-urlencoded", form.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	env := decode(t, w)
	if !env.Success || !strings.Contains(string(env.Result), "coleta_dados") {
		t.Errorf("envelope = %+v", env)
	}
	if len(ts.intake.got) != 1 || ts.intake.got[0].MessageSID != "SM1" || ts.intake.got[0].Source != "twilio" {
		t.Errorf("inbound = %+v", ts.intake.got)
	}
}

func TestWebhook_EvolutionJSON(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("POST", "/webhook/whatsapp", "application/json",
		`{"from":"5531988887777","message":"oi","message_id":"3EB0","location":{"city":"Contagem","state":"MG"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	in := ts.intake.got[0]
	if in.From != "5531988887777" || in.Location.Label() != "Contagem, MG" {
		t.Errorf("inbound = %+v", in)
	}
}

func TestWebhook_BadJSON(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("POST", "/webhook/whatsapp", "application/json", `{"from":`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the gateway does not retry", w.Code)
	}
	if env := decode(t, w); env.Success || env.Error == "" {
		t.Errorf("envelope = %+v, want success false with an error", env)
	}
	if len(ts.intake.got) != 0 {
		t.Errorf("intake called %d times for an unreadable payload", len(ts.intake.got))
	}
}

func TestWebhook_HandlerError(t *testing.T) {
	ts := newTestServer(t)
	ts.intake.err = errors.New("intake: conversation: create: database is locked")
	w := ts.do("POST", "/webhook/whatsapp", "application/x-www-form-urlencoded", "From=whatsapp%3A%2B551&Body=oi")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if env := decode(t, w); env.Success || env.Error == "" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestStatusCallback(t *testing.T) {
	ts := newTestServer(t)
	conv := &models.Conversation{Phone: "+551"}
	ts.seed(t, conv)
	sid := "SMout1"
	ts.seed(t, &models.Message{ConversationID: conv.ID, ProviderSID: &sid, Direction: "outgoing", Status: "sent"})

	w := ts.do("POST", "/webhook/whatsapp/status", "application/x-www-form-urlencoded", "MessageSid=SMout1&MessageStatus=read")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("response = %d %q", w.Code, w.Body)
	}
	var m models.Message
	ts.db.Where("provider_sid = ?", sid).First(&m)
	if m.Status != "read" || m.ReadAt == nil {
		t.Errorf("message = %q read_at=%v", m.Status, m.ReadAt)
	}

	// Unknown SIDs and empty bodies still answer 200.
	for _, body := range []string{"MessageSid=SMnope&MessageStatus=delivered", ""} {
		if w := ts.do("POST", "/webhook/whatsapp/status", "application/x-www-form-urlencoded", body); w.Code != http.StatusOK {
			t.Errorf("body %q: status = %d", body, w.Code)
		}
	}
}

func TestLeads_ListAndGet(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	older := now.Add(-time.Hour)
	ts.seed(t,
		&models.Lead{Phone: "+5531911110000", Name: "Ana", Status: "novo", LastInteraction: &older},
		&models.Lead{Phone: "+5531922220000", Name: "Bruno", Status: "qualificado", LastInteraction: &now},
		&models.Lead{Phone: "+5531933330000", Name: "Carla", Status: "novo", LastInteraction: &now},
	)

	w := ts.do("GET", "/api/leads?status=novo&per_page=1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var page struct {
		Data     []models.Lead `json:"data"`
		Total    int64         `json:"total"`
		LastPage int           `json:"last_page"`
	}
	json.Unmarshal(decode(t, w).Data, &page)
	if page.Total != 2 || page.LastPage != 2 || len(page.Data) != 1 || page.Data[0].Name != "Carla" {
		t.Errorf("page = %+v", page)
	}

	w = ts.do("GET", "/api/leads?search=bru", "", "")
	json.Unmarshal(decode(t, w).Data, &page)
	if page.Total != 1 || page.Data[0].Name != "Bruno" {
		t.Errorf("search page = %+v", page)
	}

	if w := ts.do("GET", "/api/leads?corretor_id=x", "", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad corretor_id: status = %d", w.Code)
	}
	if w := ts.do("GET", "/api/leads/1", "", ""); w.Code != http.StatusOK {
		t.Errorf("get: status = %d", w.Code)
	}
	for _, path := range []string{"/api/leads/999", "/api/leads/abc"} {
		if w := ts.do("GET", path, "", ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, w.Code)
		}
	}
}

func TestLeads_Stats(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, &models.Lead{Phone: "1", Status: "novo"}, &models.Lead{Phone: "2", Status: "perdido"})

	w := ts.do("GET", "/api/leads/stats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"por_status"`
	}
	json.Unmarshal(decode(t, w).Data, &stats)
	if stats.Total != 2 || stats.ByStatus["perdido"] != 1 || stats.ByStatus["fechado"] != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLeads_Update(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, &models.Lead{Phone: "+551", Name: "Ana", Status: "novo"})

	w := ts.do("PUT", "/api/leads/1", "application/json", `{"nome":"Ana Clara","quartos":3,"budget_max":450000,"ignored":"x"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var l models.Lead
	json.Unmarshal(decode(t, w).Data, &l)
	if l.Name != "Ana Clara" || l.Rooms == nil || *l.Rooms != 3 || l.BudgetMax == nil || *l.BudgetMax != 450000 {
		t.Errorf("lead = %+v", l)
	}

	tests := []struct {
		name, path, body string
		want             int
	}{
		{"invalid status", "/api/leads/1", `{"status":"vip"}`, http.StatusUnprocessableEntity},
		{"wrong type", "/api/leads/1", `{"quartos":"três"}`, http.StatusUnprocessableEntity},
		{"not json", "/api/leads/1", `nome=x`, http.StatusUnprocessableEntity},
		{"missing", "/api/leads/42", `{"nome":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do("PUT", tt.path, "application/json", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestLeads_PatchStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, &models.Lead{Phone: "+551", Status: "novo"})

	tests := []struct {
		name, body string
		want       int
	}{
		{"valid", `{"status":"proposta"}`, http.StatusOK},
		{"invalid", `{"status":"vip"}`, http.StatusUnprocessableEntity},
		{"missing", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do("PATCH", "/api/leads/1/status", "application/json", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
	var l models.Lead
	ts.db.First(&l, 1)
	if l.Status != "proposta" {
		t.Errorf("persisted status = %q", l.Status)
	}
}

func seedConversations(t *testing.T, ts *testServer) {
	t.Helper()
	now := time.Now()
	key := "+5531911110000"
	ts.seed(t,
		&models.Conversation{Phone: key, ActiveKey: &key, Status: "ativa", StartedAt: now, LastActivity: now},
		&models.Conversation{Phone: "+5531922220000", Status: "finalizada", StartedAt: now, LastActivity: now.Add(-time.Hour)},
	)
	ts.seed(t,
		&models.Message{ConversationID: 1, Direction: "incoming", Content: "oi", SentAt: now.Add(-time.Minute)},
		&models.Message{ConversationID: 1, Direction: "outgoing", Content: "Olá!", SentAt: now},
	)
}

func TestConversations_ListAndLive(t *testing.T) {
	ts := newTestServer(t)
	seedConversations(t, ts)

	var page struct {
		Total int64 `json:"total"`
	}
	json.Unmarshal(decode(t, ts.do("GET", "/api/conversas", "", "")).Data, &page)
	if page.Total != 1 {
		t.Errorf("default total = %d, want finalized excluded", page.Total)
	}
	json.Unmarshal(decode(t, ts.do("GET", "/api/conversas?all=1", "", "")).Data, &page)
	if page.Total != 2 {
		t.Errorf("all total = %d", page.Total)
	}

	var live []conversation.Live
	json.Unmarshal(decode(t, ts.do("GET", "/api/conversas/tempo-real", "", "")).Data, &live)
	if len(live) != 1 || live[0].Latest == nil || live[0].Latest.Content != "Olá!" {
		t.Errorf("live = %+v", live)
	}
}

func TestConversations_GetMarksRead(t *testing.T) {
	ts := newTestServer(t)
	seedConversations(t, ts)

	w := ts.do("GET", "/api/conversas/1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var conv models.Conversation
	json.Unmarshal(decode(t, w).Data, &conv)
	if len(conv.Messages) != 2 {
		t.Errorf("messages = %d", len(conv.Messages))
	}
	var unread int64
	ts.db.Model(&models.Message{}).Where("direction = ? AND read_at IS NULL", "incoming").Count(&unread)
	if unread != 0 {
		t.Errorf("unread = %d after opening", unread)
	}
	if w := ts.do("GET", "/api/conversas/99", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", w.Code)
	}
}

func TestConversations_Send(t *testing.T) {
	ts := newTestServer(t)
	seedConversations(t, ts)

	w := ts.do("POST", "/api/conversas/1/mensagens", "application/json", `{"content":"Posso ligar às 15h?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if ts.sender.to != "+5531911110000" || ts.sender.body != "Posso ligar às 15h?" {
		t.Errorf("sent %q to %q", ts.sender.body, ts.sender.to)
	}
	var m models.Message
	if err := ts.db.Where("provider_sid = ?", "SMagent1").First(&m).Error; err != nil {
		t.Fatalf("outgoing not recorded: %v", err)
	}
	if m.Direction != "outgoing" || m.Status != "sent" {
		t.Errorf("message = %+v", m)
	}

	if w := ts.do("POST", "/api/conversas/1/mensagens", "application/json", `{"content":"  "}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty content: status = %d", w.Code)
	}
	if w := ts.do("POST", "/api/conversas/9/mensagens", "application/json", `{"content":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("missing conversation: status = %d", w.Code)
	}
	ts.sender.err = errors.New("twilio: status 400")
	if w := ts.do("POST", "/api/conversas/1/mensagens", "application/json", `{"content":"x"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("gateway failure: status = %d", w.Code)
	}
}

func TestProperties(t *testing.T) {
	ts := newTestServer(t)
	price := func(v float64) *float64 { return &v }
	ts.seed(t,
		&models.Property{Code: "A1", Type: "Apartamento", Bedrooms: 2, SalePrice: price(350000), Active: true, Visible: true},
		&models.Property{Code: "C1", Type: "Casa", Bedrooms: 4, SalePrice: price(900000), Active: true, Visible: true},
		&models.Property{Code: "H1", Type: "Casa", Bedrooms: 3, SalePrice: price(500000), Active: true, Visible: false},
	)

	env := decode(t, ts.do("GET", "/api/properties?tipo=casa", "", ""))
	if env.Total != 1 || !strings.Contains(string(env.Data), `"C1"`) {
		t.Errorf("tipo filter = %+v", env)
	}
	env = decode(t, ts.do("GET", "/api/properties?quartos_min=2&preco_max=400000", "", ""))
	if env.Total != 1 || !strings.Contains(string(env.Data), `"A1"`) {
		t.Errorf("rooms/price filter = %+v", env)
	}
	if w := ts.do("GET", "/api/properties?quartos_min=dois", "", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad filter: status = %d", w.Code)
	}

	if w := ts.do("GET", "/api/properties/A1", "", ""); w.Code != http.StatusOK {
		t.Errorf("get: status = %d", w.Code)
	}
	w := ts.do("GET", "/api/properties/H1", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("hidden: status = %d", w.Code)
	}
	if env := decode(t, w); env.Success || env.Error == "" {
		t.Errorf("404 envelope = %+v", env)
	}
}

func TestPropertySync(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do("GET", "/api/properties/sync?force=1", "", ""); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(ts.sync.calls) != 1 || !ts.sync.calls[0].Force {
		t.Errorf("calls = %+v", ts.sync.calls)
	}

	ts.sync.err = catalog.ErrLocked
	if w := ts.do("GET", "/api/properties/sync", "", ""); w.Code != http.StatusConflict {
		t.Errorf("running: status = %d, want 409", w.Code)
	}
}

func TestPropertySync_NotConfigured(t *testing.T) {
	router, _ := NewRouter(context.Background(), Opts{DB: openTestDB(t), Intake: &fakeIntake{}})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/properties/sync", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)
	seedConversations(t, ts)

	for _, path := range []string{"/api/dashboard/stats", "/api/dashboard/atividades", "/api/dashboard/chart/atendimentos"} {
		w := ts.do("GET", path, "", "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, w.Code)
			continue
		}
		if env := decode(t, w); !env.Success || len(env.Data) == 0 {
			t.Errorf("%s: envelope = %+v", path, env)
		}
	}

	var days []struct {
		Total int64 `json:"total"`
	}
	json.Unmarshal(decode(t, ts.do("GET", "/api/dashboard/chart/atendimentos", "", "")).Data, &days)
	if len(days) != 7 || days[6].Total != 2 {
		t.Errorf("chart = %+v", days)
	}
}

func TestSSE_AnnouncesNewIncoming(t *testing.T) {
	pollInterval = 20 * time.Millisecond
	defer func() { pollInterval = 3 * time.Second }()

	ts := newTestServer(t)
	seedConversations(t, ts)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/conversas/eventos", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					t.Fatalf("read: %v", err)
				}
				return event, data
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	if event, _ := readEvent(); event != "connected" {
		t.Fatalf("first event = %q", event)
	}

	ts.seed(t, &models.Message{ConversationID: 1, Direction: "incoming", Content: "tem fotos?", SentAt: time.Now()})

	for {
		event, data := readEvent()
		if event == "heartbeat" {
			continue
		}
		if event != "message" {
			t.Fatalf("event = %q, data %q", event, data)
		}
		var evt incomingEvent
		json.Unmarshal([]byte(data), &evt)
		if evt.Content != "tem fotos?" || evt.Phone != "+5531911110000" || evt.Unread != 2 {
			t.Errorf("event = %+v", evt)
		}
		return
	}
}
