// Package assistant runs the per-document mapping conversation. The model
// sees the document preview, proposes and edits a draft mapping, and asks
// the user to confirm anything that writes data.
package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/toolloop"
	"github.com/sells-group/landscaper/pkg/anthropic"
)

// Jobs previews documents and starts extraction from a confirmed mapping.
type Jobs interface {
	Preview(ctx context.Context, documentID string) (*model.Document, *model.Schema, *extract.Preview, error)
	Confirm(ctx context.Context, c jobs.Confirmation) (*model.ExtractionJob, error)
}

// Reviewer applies reviewer edits.
type Reviewer interface {
	Correct(ctx context.Context, e review.Edit) (*model.Correction, error)
	Recategorize(ctx context.Context, recordID, category string) (bool, error)
}

// Records lists a document's current extracted records.
type Records interface {
	ListRecords(ctx context.Context, documentID string) ([]model.ExtractedRecord, error)
}

// Service owns one Session per document.
type Service struct {
	client   anthropic.Client
	jobs     Jobs
	reviewer Reviewer
	records  Records
	budget   toolloop.Budget
	samples  int
	opts     []toolloop.Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a Service. opts are passed to every session's tool loop.
func New(client anthropic.Client, j Jobs, rv Reviewer, recs Records, budget toolloop.Budget, samples int, opts ...toolloop.Option) *Service {
	if samples <= 0 {
		samples = 3
	}
	return &Service{
		client:   client,
		jobs:     j,
		reviewer: rv,
		records:  recs,
		budget:   budget,
		samples:  samples,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Session returns the conversation for a document, creating it on first use.
func (s *Service) Session(documentID string) (*Session, error) {
	if documentID == "" {
		return nil, eris.New("assistant: document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[documentID]; ok {
		return sess, nil
	}
	sess := &Session{
		documentID: documentID,
		svc:        s,
		conv: &toolloop.Conversation{
			System:   fmt.Sprintf(systemPrompt, documentID),
			Approved: map[string]bool{},
		},
	}
	reg, err := toolloop.NewRegistry(sess.tools()...)
	if err != nil {
		return nil, eris.Wrap(err, "assistant: register tools")
	}
	sess.loop = toolloop.New(s.client, reg, s.budget, s.opts...)
	s.sessions[documentID] = sess
	return sess, nil
}

// Close drops a document's conversation.
func (s *Service) Close(documentID string) {
	s.mu.Lock()
	delete(s.sessions, documentID)
	s.mu.Unlock()
}

// Send runs one user turn in a document's conversation.
func (s *Service) Send(ctx context.Context, documentID, text string) (*toolloop.Result, error) {
	sess, err := s.Session(documentID)
	if err != nil {
		return nil, err
	}
	return sess.Send(ctx, text)
}

// ConfirmAction runs a pending action in a document's conversation.
func (s *Service) ConfirmAction(ctx context.Context, documentID, pendingID string, always bool) (toolloop.ToolCall, error) {
	sess, err := s.Session(documentID)
	if err != nil {
		return toolloop.ToolCall{}, err
	}
	return sess.ConfirmAction(ctx, pendingID, always)
}

// RejectAction drops a pending action in a document's conversation.
func (s *Service) RejectAction(documentID, pendingID string) error {
	sess, err := s.Session(documentID)
	if err != nil {
		return err
	}
	return sess.RejectAction(pendingID)
}

const systemPrompt = `You are Landscaper, an assistant that maps spreadsheet columns to a canonical real estate schema for document %s.
Start by reading the document preview, then propose a mapping and walk the user through the LOW and MEDIUM tier columns.
Use update_mapping for every change the user asks for. Only call confirm_mapping once the user agrees with the mapping.
Never invent values. Edits to extracted records wait for the user's confirmation.`

// Session is one document's conversation and draft mapping. Its methods
// are serialized.
type Session struct {
	documentID string
	svc        *Service
	loop       *toolloop.Loop

	mu     sync.Mutex
	conv   *toolloop.Conversation
	schema *model.Schema
	draft  []model.FieldMapping
}

// Send runs one user turn.
func (s *Session) Send(ctx context.Context, text string) (*toolloop.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.loop.Run(ctx, s.conv, text)
	if err != nil {
		zap.L().Error("assistant: turn failed", zap.String("document_id", s.documentID), zap.Error(err))
		return res, err
	}
	if res.Budget != nil {
		zap.L().Warn("assistant: budget exhausted",
			zap.String("document_id", s.documentID),
			zap.String("reason", res.Budget.Reason),
		)
	}
	return res, nil
}

// standingApproval names the tools a user may approve for the rest of the
// conversation. Confirming a mapping or moving line items always asks.
var standingApproval = map[string]bool{"update_record_field": true}

// ConfirmAction runs a pending action the user approved. When always is
// set and the tool allows it, later calls to the same tool run without
// asking.
func (s *Session) ConfirmAction(ctx context.Context, pendingID string, always bool) (toolloop.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if always {
		for _, p := range s.conv.Pending {
			if p.ID == pendingID && standingApproval[p.Tool] {
				s.conv.Approved[p.Tool] = true
			}
		}
	}
	return s.loop.ExecutePending(ctx, s.conv, pendingID)
}

// RejectAction drops a pending action.
func (s *Session) RejectAction(pendingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop.Reject(s.conv, pendingID)
}

// Pending lists the actions waiting for the user.
func (s *Session) Pending() []toolloop.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]toolloop.PendingAction(nil), s.conv.Pending...)
}

// Draft returns a copy of the current draft mapping.
func (s *Session) Draft() []model.FieldMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FieldMapping(nil), s.draft...)
}
