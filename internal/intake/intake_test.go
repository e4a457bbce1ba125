package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/larcrm/internal/conversation"
	"github.com/zulandar/larcrm/internal/lead"
	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/notify"
	"github.com/zulandar/larcrm/internal/openai"
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

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []string
	sendErr  error
	media    []byte
	mediaErr error
	n        int
}

func (f *fakeMessenger) Send(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.n++
	f.sent = append(f.sent, body)
	return fmt.Sprintf("SMout%d", f.n), nil
}

func (f *fakeMessenger) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	return f.media, f.mediaErr
}

func (f *fakeMessenger) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeAssistant struct {
	reply         string
	replyErr      error
	extraction    *openai.Extraction
	extractErr    error
	transcription string
	transcribeErr error
	stagedPath    string
	stagedExisted bool

	replyTranscript string
	replyMessage    string
}

func (f *fakeAssistant) Reply(ctx context.Context, transcript, message string) (string, error) {
	f.replyTranscript, f.replyMessage = transcript, message
	return f.reply, f.replyErr
}

func (f *fakeAssistant) ExtractLead(ctx context.Context, transcript string) (*openai.Extraction, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	if f.extraction == nil {
		return &openai.Extraction{}, nil
	}
	return f.extraction, nil
}

func (f *fakeAssistant) Transcribe(ctx context.Context, path string) (string, error) {
	f.stagedPath = path
	_, err := os.Stat(path)
	f.stagedExisted = err == nil
	return f.transcription, f.transcribeErr
}

type recorder struct {
	events []notify.Event
}

func (r *recorder) Notify(ctx context.Context, evt notify.Event) error {
	r.events = append(r.events, evt)
	return nil
}

type harness struct {
	db  *gorm.DB
	svc *Service
	msg *fakeMessenger
	ai  *fakeAssistant
	rec *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:  openTestDB(t),
		msg: &fakeMessenger{},
		ai:  &fakeAssistant{reply: "Claro! Qual região?"},
		rec: &recorder{},
	}
	svc, err := NewService(ServiceOpts{
		DB:        h.db,
		Messenger: h.msg,
		Assistant: h.ai,
		Notifier:  h.rec,
		TempDir:   t.TempDir(),
		AdminURL:  "https://crm.exclusivalar.com.br",
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) inbound(t *testing.T, sid, body string) *Result {
	t.Helper()
	res, err := h.svc.HandleInbound(context.Background(), Inbound{
		From:        "whatsapp:+5531999990000",
		Body:        body,
		MessageSID:  sid,
		ProfileName: "Ana",
	})
	if err != nil {
		t.Fatalf("HandleInbound(%q): %v", body, err)
	}
	return res
}

func (h *harness) conversation(t *testing.T, id uint) *models.Conversation {
	t.Helper()
	c, err := conversation.Get(h.db, id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	return c
}

func seedProperties(t *testing.T, db *gorm.DB) {
	t.Helper()
	props := []models.Property{
		{Code: "A1", Type: "Apartamento", Bedrooms: 2, SalePrice: ptrF(350000), Active: true, Visible: true},
		{Code: "A2", Type: "Apartamento", Bedrooms: 3, SalePrice: ptrF(480000), Active: true, Visible: true},
		{Code: "C1", Type: "Casa", Bedrooms: 4, SalePrice: ptrF(900000), Active: true, Visible: true},
	}
	for i := range props {
		if err := db.Create(&props[i]).Error; err != nil {
			t.Fatalf("seed %s: %v", props[i].Code, err)
		}
	}
}

func TestNewService_Validation(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewService(ServiceOpts{Messenger: &fakeMessenger{}, Assistant: &fakeAssistant{}}); err == nil {
		t.Error("expected error without db")
	}
	if _, err := NewService(ServiceOpts{DB: db, Assistant: &fakeAssistant{}}); err == nil {
		t.Error("expected error without messenger")
	}
	if _, err := NewService(ServiceOpts{DB: db, Messenger: &fakeMessenger{}}); err == nil {
		t.Error("expected error without assistant")
	}
}

func TestHandleInbound_FirstMessageWelcomes(t *testing.T) {
	h := newHarness(t)

	res := h.inbound(t, "SM1", "oi")
	if !res.Success || res.Stage != string(conversation.StageColetaDados) {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(h.msg.last(), "Exclusiva Lar Imóveis") {
		t.Errorf("welcome = %q", h.msg.last())
	}

	c := h.conversation(t, res.ConversationID)
	if c.Phone != "+5531999990000" {
		t.Errorf("phone = %q, want prefix stripped", c.Phone)
	}
	if c.Stage != string(conversation.StageColetaDados) {
		t.Errorf("stage = %q", c.Stage)
	}
	if c.LeadID == nil || *c.LeadID != res.LeadID {
		t.Fatalf("lead link = %v, result lead %d", c.LeadID, res.LeadID)
	}
	l, err := lead.Get(h.db, res.LeadID)
	if err != nil {
		t.Fatal(err)
	}
	if l.Name != "Ana" || l.Status != lead.StatusNovo {
		t.Errorf("lead = %q/%q", l.Name, l.Status)
	}
	if len(c.Messages) != 2 {
		t.Errorf("messages = %d, want inbound + welcome", len(c.Messages))
	}
}

func TestHandleInbound_DuplicateSID(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, "SM1", "oi")
	sent := len(h.msg.sent)

	res := h.inbound(t, "SM1", "oi")
	if !res.Duplicate || !res.Success {
		t.Fatalf("result = %+v, want duplicate", res)
	}
	if len(h.msg.sent) != sent {
		t.Errorf("sent %d more messages on redelivery", len(h.msg.sent)-sent)
	}
	var n int64
	h.db.Model(&models.Message{}).Where("direction = ?", conversation.DirectionIncoming).Count(&n)
	if n != 1 {
		t.Errorf("incoming rows = %d, want 1", n)
	}
}

func TestHandleInbound_MissingSender(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.HandleInbound(context.Background(), Inbound{Body: "oi"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if res.Success {
		t.Error("expected unsuccessful result")
	}
}

func TestHandleInbound_NoCriteriaWaitsForInfo(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, "SM1", "oi")

	res := h.inbound(t, "SM2", "tudo bem?")
	if res.Stage != string(conversation.StageAguardandoInfo) {
		t.Errorf("stage = %q, want aguardando_info", res.Stage)
	}
	if res.Reply != "Claro! Qual região?" || h.msg.last() != res.Reply {
		t.Errorf("reply = %q, last sent = %q", res.Reply, h.msg.last())
	}
}

func TestHandleInbound_ReplyPromptHasLatestMessageOnce(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, "SM1", "oi")
	h.inbound(t, "SM2", "procuro apartamento")

	if h.ai.replyMessage != "procuro apartamento" {
		t.Errorf("reply message = %q", h.ai.replyMessage)
	}
	if strings.Contains(h.ai.replyTranscript, "procuro apartamento") {
		t.Errorf("transcript already carries the latest message:\n%s", h.ai.replyTranscript)
	}
	if !strings.HasPrefix(h.ai.replyTranscript, "Cliente: oi") {
		t.Errorf("transcript = %q, want earlier dialogue", h.ai.replyTranscript)
	}
}

func TestHandleInbound_RefineSearchesAgain(t *testing.T) {
	h := newHarness(t)
	seedProperties(t, h.db)
	h.inbound(t, "SM1", "oi")

	h.ai.extraction = &openai.Extraction{
		BudgetMin: ptrF(300000), BudgetMax: ptrF(500000),
		Location: "Savassi", Rooms: ptrI(2),
	}
	res := h.inbound(t, "SM2", "apartamento de 2 quartos na Savassi até 500 mil")
	if res.Stage != string(conversation.StageApresentacao) || res.Matches != 2 {
		t.Fatalf("result = %+v, want apresentacao with 2 matches", res)
	}

	h.ai.extraction = &openai.Extraction{
		BudgetMin: ptrF(800000), BudgetMax: ptrF(1000000),
		Location: "Savassi", Rooms: ptrI(4), Intent: "refine",
	}
	res = h.inbound(t, "SM3", "quero mudar, casa de 4 quartos até 1 milhão")
	if res.Stage != string(conversation.StageApresentacao) || res.Matches != 1 {
		t.Fatalf("after refining: stage = %q matches = %d, want apresentacao with 1 match", res.Stage, res.Matches)
	}
	var n int64
	h.db.Model(&models.LeadPropertyMatch{}).Where("lead_id = ?", res.LeadID).Count(&n)
	if n != 3 {
		t.Errorf("recorded matches = %d, want 3", n)
	}
}

func TestHandleInbound_MatchThenSchedule(t *testing.T) {
	h := newHarness(t)
	seedProperties(t, h.db)
	h.inbound(t, "SM1", "oi")

	h.ai.extraction = &openai.Extraction{
		BudgetMin: ptrF(300000), BudgetMax: ptrF(500000),
		Location: "Savassi", Rooms: ptrI(2),
	}
	res := h.inbound(t, "SM2", "apartamento de 2 quartos na Savassi até 500 mil")
	if res.Stage != string(conversation.StageApresentacao) || res.Matches != 2 {
		t.Fatalf("result = %+v, want apresentacao with 2 matches", res)
	}
	if !strings.Contains(h.msg.last(), "Encontrei 2 imóveis") {
		t.Errorf("last sent = %q", h.msg.last())
	}
	var matches []models.LeadPropertyMatch
	h.db.Where("lead_id = ?", res.LeadID).Find(&matches)
	if len(matches) != 2 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Score != 80 || matches[0].ConversationID == nil {
		t.Errorf("match = %+v", matches[0])
	}

	h.ai.extraction = &openai.Extraction{Intent: "agendar"}
	res = h.inbound(t, "SM3", "ok")
	if res.Stage != string(conversation.StageAgendamento) {
		t.Fatalf("stage = %q, want agendamento", res.Stage)
	}
	l, _ := lead.Get(h.db, res.LeadID)
	if l.Status != lead.StatusQualificado {
		t.Errorf("lead status = %q", l.Status)
	}
	c := h.conversation(t, res.ConversationID)
	if c.Status != conversation.StatusAguardandoCorretor {
		t.Errorf("conversation status = %q", c.Status)
	}
	if len(h.rec.events) != 1 || !strings.Contains(h.rec.events[0].Title, "Ana") {
		t.Errorf("notifications = %+v", h.rec.events)
	}
	if len(h.rec.events) == 1 {
		evt := h.rec.events[0]
		wantURL := fmt.Sprintf("https://crm.exclusivalar.com.br/conversas/%d", res.ConversationID)
		if !evt.Urgent || evt.URL != wantURL {
			t.Errorf("handoff event urgent=%v url=%q, want %q", evt.Urgent, evt.URL, wantURL)
		}
	}

	// The conversation stays parked for the agent.
	res = h.inbound(t, "SM4", "alguém vai me ligar?")
	if res.Stage != string(conversation.StageAgendamento) || len(h.rec.events) != 1 {
		t.Errorf("stage = %q, notifications = %d", res.Stage, len(h.rec.events))
	}
}

func TestHandleInbound_KeywordIntentFallback(t *testing.T) {
	h := newHarness(t)
	seedProperties(t, h.db)
	h.inbound(t, "SM1", "oi")
	h.ai.extraction = &openai.Extraction{BudgetMax: ptrF(500000), Location: "Savassi", Rooms: ptrI(2)}
	h.inbound(t, "SM2", "2 quartos")

	h.ai.extraction = nil
	res := h.inbound(t, "SM3", "Gostei, me interessa o primeiro")
	if res.Stage != string(conversation.StageInteresse) {
		t.Errorf("stage = %q, want interesse", res.Stage)
	}
}

func TestHandleInbound_NoMatchThenRefine(t *testing.T) {
	h := newHarness(t)
	seedProperties(t, h.db)
	h.inbound(t, "SM1", "oi")

	h.ai.extraction = &openai.Extraction{BudgetMin: ptrF(100000), BudgetMax: ptrF(200000), Location: "Savassi", Rooms: ptrI(2)}
	res := h.inbound(t, "SM2", "até 200 mil")
	if res.Stage != string(conversation.StageSemMatch) || res.Matches != 0 {
		t.Fatalf("result = %+v, want sem_match", res)
	}
	if h.msg.last() != msgNoMatch {
		t.Errorf("last sent = %q", h.msg.last())
	}

	// Same criteria: refinamento does not search again.
	res = h.inbound(t, "SM3", "hmm")
	if res.Stage != string(conversation.StageRefinamento) {
		t.Fatalf("stage = %q, want refinamento", res.Stage)
	}

	// refinamento -> coleta_dados, which searches with the new budget.
	h.ai.extraction = &openai.Extraction{BudgetMin: ptrF(300000), BudgetMax: ptrF(500000)}
	res = h.inbound(t, "SM4", "posso subir para 500 mil")
	if res.Stage != string(conversation.StageApresentacao) || res.Matches != 2 {
		t.Errorf("result = %+v, want apresentacao with 2 matches", res)
	}
}

func TestHandleInbound_RefineWithChangedCriteriaSearches(t *testing.T) {
	h := newHarness(t)
	seedProperties(t, h.db)
	h.inbound(t, "SM1", "oi")
	h.ai.extraction = &openai.Extraction{BudgetMin: ptrF(100000), BudgetMax: ptrF(200000), Location: "Savassi", Rooms: ptrI(2)}
	h.inbound(t, "SM2", "até 200 mil")

	// sem_match -> refinamento with new budget in the same turn.
	h.ai.extraction = &openai.Extraction{BudgetMin: ptrF(300000), BudgetMax: ptrF(500000)}
	res := h.inbound(t, "SM3", "posso subir para 500 mil")
	if res.Stage != string(conversation.StageApresentacao) || res.Matches != 2 {
		t.Errorf("result = %+v, want apresentacao with 2 matches", res)
	}
}

func TestHandleInbound_ReplyFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, "SM1", "oi")

	h.ai.replyErr = errors.New("openai: status 503")
	h.ai.extractErr = errors.New("openai: status 503")
	res := h.inbound(t, "SM2", "quero comprar")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Reply != msgFallback {
		t.Errorf("reply = %q, want fallback", res.Reply)
	}
}

func TestHandleInbound_SendFailureRecorded(t *testing.T) {
	h := newHarness(t)
	h.msg.sendErr = errors.New("twilio: status 401")

	res := h.inbound(t, "SM1", "oi")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	var out models.Message
	if err := h.db.Where("direction = ?", conversation.DirectionOutgoing).First(&out).Error; err != nil {
		t.Fatal(err)
	}
	if out.Status != conversation.MessageFailed {
		t.Errorf("outgoing status = %q, want failed", out.Status)
	}
}

func TestHandleInbound_AudioTranscribed(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, "SM1", "oi")

	h.msg.media = []byte("OggS")
	h.ai.transcription = "  procuro casa com 3 quartos  "
	res, err := h.svc.HandleInbound(context.Background(), Inbound{
		From:       "whatsapp:+5531999990000",
		MessageSID: "SM2",
		MediaURL:   "https://api.twilio.com/media/ME1",
		MediaType:  "audio/ogg",
	})
	if err != nil || !res.Success {
		t.Fatalf("HandleInbound = %+v, %v", res, err)
	}
	if !h.ai.stagedExisted {
		t.Error("audio was not staged before transcription")
	}
	if _, err := os.Stat(h.ai.stagedPath); !os.IsNotExist(err) {
		t.Errorf("staged audio not removed: %v", err)
	}
	if h.msg.sent[1] != msgAudioAck {
		t.Errorf("ack = %q", h.msg.sent[1])
	}

	var m models.Message
	h.db.Where("provider_sid = ?", "SM2").First(&m)
	if m.Type != conversation.TypeAudio || m.Transcription != "procuro casa com 3 quartos" {
		t.Errorf("message = %q/%q", m.Type, m.Transcription)
	}
}

func TestHandleInbound_AudioFailure(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, "SM1", "oi")

	h.msg.mediaErr = errors.New("twilio: download media: status 404")
	res, err := h.svc.HandleInbound(context.Background(), Inbound{
		From:       "+5531999990000",
		MessageSID: "SM2",
		MediaURL:   "https://api.twilio.com/media/ME1",
		MediaType:  "audio/ogg",
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if res.Success {
		t.Error("expected unsuccessful result")
	}
	if h.msg.last() != msgAudioFailed {
		t.Errorf("last sent = %q", h.msg.last())
	}
}

func TestFoundMessage(t *testing.T) {
	if got := foundMessage(1); !strings.Contains(got, "1 imóvel que combina") {
		t.Errorf("singular = %q", got)
	}
	if got := foundMessage(3); !strings.Contains(got, "3 imóveis que combinam") {
		t.Errorf("plural = %q", got)
	}
}
