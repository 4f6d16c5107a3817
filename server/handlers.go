package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/search"
)

// SearchRequest is the body of a document search. An omitted
// min_similarity selects the configured threshold; 0 ranks everything.
type SearchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
	Strict        bool     `json:"strict"`
}

// RetrieveRequest is the body of a memory retrieval.
type RetrieveRequest struct {
	ConversationID int64    `json:"conversation_id"`
	UserID         int64    `json:"user_id"`
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	Types          []string `json:"types"`
	MinRelevance   float64  `json:"min_relevance"`
}

// MessageRequest is an inbound conversation message.
type MessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// MessageResponse reports the stored message and any memory created.
type MessageResponse struct {
	MessageID int64       `json:"message_id"`
	Memory    *MemoryView `json:"memory,omitempty"`
}

// ContextResponse carries a built prompt context.
type ContextResponse struct {
	Context string `json:"context"`
}

// DocumentRequest creates or updates a document. On update, nil fields
// are left unchanged.
type DocumentRequest struct {
	Title    *string        `json:"title"`
	Content  *string        `json:"content"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

// Operations shared by the HTTP handlers and the websocket protocol.

func (s *Server) searchDocuments(ctx context.Context, req SearchRequest) ([]search.DocumentResult, error) {
	minSimilarity := engine.DefaultSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}
	if req.Strict {
		return s.engine.SearchDocumentsStrict(ctx, req.Query, req.Limit, minSimilarity)
	}
	return s.engine.SearchDocuments(ctx, req.Query, req.Limit, minSimilarity)
}

func (s *Server) retrieveMemories(ctx context.Context, req RetrieveRequest) ([]RecalledView, error) {
	q := memory.Query{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Text:           req.Query,
		Limit:          req.Limit,
		MinRelevance:   req.MinRelevance,
	}
	for _, t := range req.Types {
		typ, err := memory.ParseType(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
		q.Types = append(q.Types, typ)
	}
	recalled, err := s.engine.RetrieveForUser(ctx, q)
	if err != nil {
		return nil, err
	}
	return recalledViews(recalled), nil
}

func (s *Server) handleMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msg := &core.Message{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           core.Role(strings.ToLower(req.Role)),
		Content:        req.Content,
	}
	switch msg.Role {
	case "":
		msg.Role = core.RoleUser
	case core.RoleUser, core.RoleAssistant:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", core.ErrInvalidInput, req.Role)
	}

	mem, err := s.engine.HandleMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &MessageResponse{MessageID: msg.ID, Memory: memoryView(mem)}, nil
}

func (s *Server) buildContext(ctx context.Context, req MessageRequest) (*ContextResponse, error) {
	text, err := s.engine.BuildContext(ctx, &core.Message{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Content:        req.Content,
	})
	if err != nil {
		return nil, err
	}
	return &ContextResponse{Context: text}, nil
}

// HTTP handlers.

func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	results, err := s.searchDocuments(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, results)
}

func (s *Server) handleRetrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	recalled, err := s.retrieveMemories(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, recalled)
}

func (s *Server) handleDecay(c *gin.Context) {
	report, err := s.engine.Memories().Decay(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, report)
}

func (s *Server) handleGetMemory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := s.engine.Memories().Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, memoryView(m))
}

func (s *Server) handlePostMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	resp, err := s.handleMessage(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, resp)
}

func (s *Server) handleContext(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	resp, err := s.buildContext(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, resp)
}

func (s *Server) handleCreateDocument(c *gin.Context) {
	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	var title, content string
	if req.Title != nil {
		title = *req.Title
	}
	if req.Content != nil {
		content = *req.Content
	}

	id, err := s.engine.Documents().Add(c.Request.Context(), title, content, req.Source, req.Metadata)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, gin.H{"id": id})
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.engine.Documents().List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]DocumentView, len(docs))
	for i, d := range docs {
		out[i] = documentView(d, false)
	}
	success(c, out)
}

func (s *Server) handleGetDocument(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	doc, err := s.engine.Documents().Get(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	chunks, err := s.engine.Documents().Chunks(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	v := documentView(doc, true)
	v.Chunks = chunkViews(chunks)
	success(c, v)
}

func (s *Server) handleUpdateDocument(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	updated, err := s.engine.Documents().Update(c.Request.Context(), id, document.Update{
		Title:    req.Title,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if !updated {
		notFound(c, fmt.Sprintf("document %d not found", id))
		return
	}
	success(c, gin.H{"id": id, "updated": true})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deleted, err := s.engine.Documents().Delete(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if !deleted {
		notFound(c, fmt.Sprintf("document %d not found", id))
		return
	}
	success(c, gin.H{"id": id, "deleted": true})
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	learner := s.engine.Learner()
	if learner == nil {
		notFound(c, "preference learning is not configured")
		return
	}
	p, err := learner.Profile(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, p)
}

func (s *Server) handleLearnPreferences(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	learner := s.engine.Learner()
	if learner == nil {
		notFound(c, "preference learning is not configured")
		return
	}
	p, err := learner.Learn(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, p)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return id, true
}
