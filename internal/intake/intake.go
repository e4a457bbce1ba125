// Package intake runs the automated WhatsApp attendant: it records inbound
// messages, answers them, qualifies the sender as a lead and searches the
// catalog once enough is known.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/larcrm/internal/conversation"
	"github.com/zulandar/larcrm/internal/lead"
	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/notify"
	"github.com/zulandar/larcrm/internal/openai"
	"github.com/zulandar/larcrm/internal/property"
	"github.com/zulandar/larcrm/internal/twilio"
	"gorm.io/gorm"
)

// Messenger delivers WhatsApp messages and fetches their media.
type Messenger interface {
	Send(ctx context.Context, to, body string) (string, error)
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// Assistant is the language model behind the attendant.
type Assistant interface {
	Reply(ctx context.Context, transcript, message string) (string, error)
	ExtractLead(ctx context.Context, transcript string) (*openai.Extraction, error)
	Transcribe(ctx context.Context, path string) (string, error)
}

// Result reports what handling one inbound message did.
type Result struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	ConversationID uint   `json:"conversa_id,omitempty"`
	LeadID         uint   `json:"lead_id,omitempty"`
	Stage          string `json:"stage,omitempty"`
	Reply          string `json:"ai_response,omitempty"`
	Matches        int    `json:"matches,omitempty"`
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	DB        *gorm.DB
	Messenger Messenger
	Assistant Assistant
	Notifier  notify.Notifier // defaults to notify.Log
	AppName   string          // shown in the welcome message
	TempDir   string          // where audio is staged for transcription; defaults to os.TempDir()
	AdminURL  string          // admin panel base for hand-off links
}

// Service handles inbound WhatsApp messages.
type Service struct {
	db        *gorm.DB
	messenger Messenger
	assistant Assistant
	notifier  notify.Notifier
	appName   string
	tempDir   string
	adminURL  string
}

// NewService creates a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("intake: db is required")
	}
	if opts.Messenger == nil {
		return nil, fmt.Errorf("intake: messenger is required")
	}
	if opts.Assistant == nil {
		return nil, fmt.Errorf("intake: assistant is required")
	}
	s := &Service{
		db:        opts.DB,
		messenger: opts.Messenger,
		assistant: opts.Assistant,
		notifier:  opts.Notifier,
		appName:   opts.AppName,
		tempDir:   opts.TempDir,
		adminURL:  opts.AdminURL,
	}
	if s.notifier == nil {
		s.notifier = notify.Log{}
	}
	if s.appName == "" {
		s.appName = "Exclusiva Lar Imóveis"
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	return s, nil
}

// HandleInbound processes one gateway message. The inbound row is committed
// before anything that can fail on the outside, so a returned error never
// loses the message. Gateway and model failures are answered with canned
// replies and do not produce an error.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) (*Result, error) {
	phone := twilio.StripAddress(in.From)
	if phone == "" {
		return &Result{Success: false, Message: "número de origem não identificado"}, nil
	}

	conv, created, err := conversation.FindOrCreateActive(s.db, phone, in.ProfileName)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	if created {
		log.Printf("intake: new conversation %d for %s", conv.ID, phone)
	}

	msgType := DetectMessageType(in.MediaURL, in.MediaType)
	msg, duplicate, err := conversation.AppendMessage(s.db, conversation.MessageOpts{
		ConversationID: conv.ID,
		ProviderSID:    in.MessageSID,
		Direction:      conversation.DirectionIncoming,
		Type:           msgType,
		Content:        in.Body,
		MediaURL:       in.MediaURL,
	})
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	res := &Result{ConversationID: conv.ID, Stage: conv.Stage}
	if conv.LeadID != nil {
		res.LeadID = *conv.LeadID
	}
	if duplicate {
		log.Printf("intake: message %s already processed", in.MessageSID)
		res.Success, res.Duplicate, res.Message = true, true, "mensagem já processada"
		return res, nil
	}

	body := in.Body
	if msgType == conversation.TypeAudio && in.MediaURL != "" {
		if err := s.send(ctx, conv, msgAudioAck); err != nil {
			return nil, err
		}
		text, err := s.transcribe(ctx, in.MediaURL)
		if err != nil {
			log.Printf("intake: transcribe audio of conversation %d: %v", conv.ID, err)
			if err := s.send(ctx, conv, msgAudioFailed); err != nil {
				return nil, err
			}
			res.Message = "falha na transcrição de áudio"
			return res, nil
		}
		if err := conversation.SetTranscription(s.db, msg.ID, text); err != nil {
			return nil, fmt.Errorf("intake: %w", err)
		}
		body = text
	}
	conv.LastMessage = body

	l, err := s.ensureLead(conv, phone, in)
	if err != nil {
		return nil, err
	}
	res.LeadID = l.ID

	incoming, err := conversation.CountIncoming(s.db, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	if incoming == 1 {
		return s.welcome(ctx, conv, res)
	}
	return s.converse(ctx, conv, l, msg.ID, body, res)
}

// ensureLead returns the conversation's lead, creating and linking one by
// phone when the conversation has none yet.
func (s *Service) ensureLead(conv *models.Conversation, phone string, in Inbound) (*models.Lead, error) {
	if conv.LeadID != nil {
		l, err := lead.Get(s.db, *conv.LeadID)
		if err == nil {
			if err := lead.Touch(s.db, l.ID); err != nil {
				return nil, fmt.Errorf("intake: %w", err)
			}
			return l, nil
		}
		if !errors.Is(err, lead.ErrNotFound) {
			return nil, fmt.Errorf("intake: %w", err)
		}
	}

	l, created, err := lead.FindOrCreateByPhone(s.db, phone, lead.Profile{
		Name:     in.ProfileName,
		Location: in.Location.Label(),
	})
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	if err := conversation.LinkLead(s.db, conv.ID, l.ID); err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	conv.LeadID = &l.ID
	if created {
		log.Printf("intake: lead %d created for conversation %d", l.ID, conv.ID)
	}
	return l, nil
}

func (s *Service) welcome(ctx context.Context, conv *models.Conversation, res *Result) (*Result, error) {
	if err := s.send(ctx, conv, welcomeMessage(s.appName)); err != nil {
		return nil, err
	}
	if err := conversation.SetStage(s.db, conv.ID, conversation.StageColetaDados); err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	res.Success = true
	res.Message = "primeira mensagem processada"
	res.Stage = string(conversation.StageColetaDados)
	return res, nil
}

// converse answers a regular message, updates the lead from the dialogue,
// advances the stage and searches the catalog when the stage calls for it.
// The reply prompt gets the dialogue up to msgID plus body as the latest line.
func (s *Service) converse(ctx context.Context, conv *models.Conversation, l *models.Lead, msgID uint, body string, res *Result) (*Result, error) {
	transcript, err := conversation.TranscriptBefore(s.db, conv.ID, msgID)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	reply, err := s.assistant.Reply(ctx, transcript, body)
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Printf("intake: reply for conversation %d: %v", conv.ID, err)
		reply = msgFallback
	}
	if err := s.send(ctx, conv, reply); err != nil {
		return nil, err
	}
	res.Reply = reply

	intent, criteriaChanged, err := s.extract(ctx, conv, l)
	if err != nil {
		return nil, err
	}
	if intent == conversation.IntentNone {
		intent = conversation.DetectIntent(body)
	}

	stage, err := conversation.ParseStage(conv.Stage)
	if err != nil {
		log.Printf("intake: conversation %d: %v, restarting at %s", conv.ID, err, conversation.StageColetaDados)
		stage = conversation.StageColetaDados
	}
	tr := conversation.Next(stage, conversation.Signals{
		HasCriteria: lead.HasAnyCriteria(l),
		Intent:      intent,
	})
	if tr.Changed() {
		if err := conversation.SetStage(s.db, conv.ID, tr.To); err != nil {
			return nil, fmt.Errorf("intake: %w", err)
		}
		log.Printf("intake: conversation %d: %s -> %s", conv.ID, tr.From, tr.To)
	}
	res.Stage = string(tr.To)

	if tr.Qualify {
		if err := s.handoff(ctx, conv, l); err != nil {
			return nil, err
		}
	}

	if lead.HasMatchCriteria(l) && tr.To.ShouldMatch(criteriaChanged) {
		props, err := property.Match(s.db, l, &conv.ID)
		if err != nil {
			return nil, fmt.Errorf("intake: %w", err)
		}
		text := msgNoMatch
		if len(props) > 0 {
			text = foundMessage(len(props))
		}
		if err := s.send(ctx, conv, text); err != nil {
			return nil, err
		}
		next := conversation.AfterMatch(len(props) > 0)
		if err := conversation.SetStage(s.db, conv.ID, next); err != nil {
			return nil, fmt.Errorf("intake: %w", err)
		}
		res.Stage, res.Matches = string(next), len(props)
	}

	res.Success = true
	res.Message = "mensagem processada"
	return res, nil
}

// extract asks the model for lead fields over the whole dialogue and merges
// them onto l. Model failures are logged and yield no intent.
func (s *Service) extract(ctx context.Context, conv *models.Conversation, l *models.Lead) (conversation.Intent, bool, error) {
	transcript, err := conversation.Transcript(s.db, conv.ID)
	if err != nil {
		return conversation.IntentNone, false, fmt.Errorf("intake: %w", err)
	}
	x, err := s.assistant.ExtractLead(ctx, transcript)
	if err != nil {
		log.Printf("intake: extract lead %d: %v", l.ID, err)
		return conversation.IntentNone, false, nil
	}
	changed, err := lead.MergeExtracted(s.db, l, lead.Extracted{
		Name:      x.Name,
		Email:     x.Email,
		BudgetMin: x.BudgetMin,
		BudgetMax: x.BudgetMax,
		Location:  x.Location,
		Rooms:     x.Rooms,
		Suites:    x.Suites,
		Garage:    x.Garage,
		Features:  x.Features,
	})
	if err != nil {
		return conversation.IntentNone, false, fmt.Errorf("intake: %w", err)
	}
	return conversation.ParseIntent(x.Intent), changed, nil
}

// handoff qualifies the lead, parks the conversation for an agent and
// alerts the team.
func (s *Service) handoff(ctx context.Context, conv *models.Conversation, l *models.Lead) error {
	updated, err := lead.UpdateStatus(s.db, l.ID, lead.StatusQualificado)
	if err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	*l = *updated
	if err := conversation.SetStatus(s.db, conv.ID, conversation.StatusAguardandoCorretor); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	conv.Status = conversation.StatusAguardandoCorretor
	evt := notify.FormatHandoff(l, conv)
	evt.URL = notify.ConversationURL(s.adminURL, conv.ID)
	if err := s.notifier.Notify(ctx, evt); err != nil {
		log.Printf("intake: notify handoff of lead %d: %v", l.ID, err)
	}
	return nil
}

// send delivers body to the conversation's phone and records it. A gateway
// failure is logged and stored as a failed message; only store errors are
// returned.
func (s *Service) send(ctx context.Context, conv *models.Conversation, body string) error {
	status := conversation.MessageSent
	sid, err := s.messenger.Send(ctx, conv.Phone, body)
	if err != nil {
		log.Printf("intake: send to %s: %v", conv.Phone, err)
		status = conversation.MessageFailed
	}
	if _, _, err := conversation.AppendMessage(s.db, conversation.MessageOpts{
		ConversationID: conv.ID,
		ProviderSID:    sid,
		Direction:      conversation.DirectionOutgoing,
		Type:           conversation.TypeText,
		Content:        body,
		Status:         status,
	}); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	return nil
}

// transcribe downloads an audio message, stages it in a temp file and
// returns its transcription.
func (s *Service) transcribe(ctx context.Context, mediaURL string) (string, error) {
	data, err := s.messenger.DownloadMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.tempDir, "audio_"+uuid.NewString()+".ogg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	defer os.Remove(path)

	text, err := s.assistant.Transcribe(ctx, path)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty transcription")
	}
	return text, nil
}
