// Package transport exposes the runtime over REST: chat turns, feedback
// learning, answer judging, and the backward pipeline.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ospa-ai/relay/pkg/backward"
	"github.com/ospa-ai/relay/pkg/chat"
	"github.com/ospa-ai/relay/pkg/config"
	"github.com/ospa-ai/relay/pkg/feedback"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/reward"
	"github.com/ospa-ai/relay/pkg/tools"
)

// Turn outcome discriminator in ChatResponse.
const (
	ResultSuccess   = "Success"
	ResultCancelled = "Cancelled"
	ResultError     = "Error"
)

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	UserMessage           string                `json:"user_message"`
	EditedLastResponse    string                `json:"edited_last_response,omitempty"`
	RecallLastUserMessage bool                  `json:"recall_last_user_message,omitempty"`
	Settings              config.Setting        `json:"settings"`
	Memory                *fsm.Memory           `json:"memory"`
	RequestTools          []tools.RequestConfig `json:"request_tools,omitempty"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	Response         string      `json:"response"`
	Memory           *fsm.Memory `json:"memory"`
	ResultType       string      `json:"result_type"`
	LLMCallingTimes  int         `json:"llm_calling_times"`
	TotalInputToken  int         `json:"total_input_token"`
	TotalOutputToken int         `json:"total_output_token"`
}

// LearnRequest is the POST /learn body.
type LearnRequest struct {
	Settings  config.Setting      `json:"settings"`
	Feedbacks []feedback.Feedback `json:"feedbacks"`
}

// LearnResponse reports how many feedbacks were stored.
type LearnResponse struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// RewardRequest is the POST /reward body.
type RewardRequest struct {
	Settings     config.Setting `json:"settings"`
	Question     string         `json:"question"`
	Candidates   []string       `json:"candidates"`
	TargetAnswer string         `json:"target_answer"`
}

// BackwardRequest is the POST /backward body.
type BackwardRequest struct {
	Settings         config.Setting         `json:"settings"`
	QALists          []ospa.QAList          `json:"qa_lists"`
	ChapterStructure *ospa.ChapterStructure `json:"chapter_structure,omitempty"`
	MaxLevel         int                    `json:"max_level"`
}

// BackwardResponse is the POST /backward reply.
type BackwardResponse struct {
	ChapterStructure *ospa.ChapterStructure `json:"chapter_structure"`
	OSPAList         []ospa.Row             `json:"ospa_list"`
	OperationLog     []string               `json:"operation_log"`
}

// Server binds the services to their routes. The base setting fills in
// fields a request's settings leave empty, typically credentials from the
// process environment.
type Server struct {
	base     *config.Setting
	chat     *chat.Service
	reward   *reward.Service
	backward *backward.Pipeline
}

func NewServer(base *config.Setting) *Server {
	if base == nil {
		base = &config.Setting{}
	}
	return &Server{
		base:     base,
		chat:     chat.NewService(),
		reward:   reward.NewService(),
		backward: backward.NewPipeline(backward.DefaultConcurrency),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Post("/learn", s.handleLearn)
	r.Get("/feedbacks", s.handleListFeedbacks)
	r.Delete("/feedbacks", s.handleDeleteFeedbacks)
	r.Post("/reward", s.handleReward)
	r.Post("/backward", s.handleBackward)
	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.fillFromBase(&req.Settings)

	res, err := s.chat.Step(r.Context(), chat.Request{
		UserMessage:           req.UserMessage,
		EditedLastResponse:    req.EditedLastResponse,
		RecallLastUserMessage: req.RecallLastUserMessage,
		Setting:               req.Settings,
		Memory:                req.Memory,
		RequestTools:          req.RequestTools,
	})
	if err != nil {
		s.writeChatFailure(w, req.Memory, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:         res.Response,
		Memory:           res.Memory,
		ResultType:       ResultSuccess,
		LLMCallingTimes:  res.Counter.CallingTimes(),
		TotalInputToken:  res.Counter.TotalInputTokens(),
		TotalOutputToken: res.Counter.TotalOutputTokens(),
	})
}

// writeChatFailure maps a turn error onto the response discriminator. The
// caller's memory is echoed back untouched.
func (s *Server) writeChatFailure(w http.ResponseWriter, memory *fsm.Memory, err error) {
	resp := ChatResponse{Memory: memory}
	status := http.StatusOK

	switch {
	case errors.Is(err, context.Canceled):
		resp.ResultType = ResultCancelled
	case errors.Is(err, config.ErrConfig), errors.Is(err, tools.ErrDuplicateToolName):
		resp.ResultType = ResultError
		resp.Response = err.Error()
		status = http.StatusBadRequest
	default:
		slog.Error("chat turn failed", "error", err)
		resp.ResultType = ResultError
		resp.Response = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req LearnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.fillFromBase(&req.Settings)
	req.Settings.Normalize()

	store, err := chat.OpenStore(req.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored := 0
	for _, fb := range req.Feedbacks {
		if err := store.Upsert(r.Context(), req.Settings.AgentName, fb); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		stored++
	}
	writeJSON(w, http.StatusOK, LearnResponse{
		Status: "ok",
		Data:   map[string]interface{}{"stored": stored},
	})
}

func (s *Server) handleListFeedbacks(w http.ResponseWriter, r *http.Request) {
	agentName := r.URL.Query().Get("agent_name")
	if agentName == "" {
		agentName = config.DefaultAgentName
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)

	store, err := s.baseStore()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feedbacks, err := store.List(r.Context(), agentName, offset, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if feedbacks == nil {
		feedbacks = []feedback.Feedback{}
	}
	writeJSON(w, http.StatusOK, feedbacks)
}

func (s *Server) handleDeleteFeedbacks(w http.ResponseWriter, r *http.Request) {
	agentName := r.URL.Query().Get("agent_name")
	if agentName == "" {
		agentName = config.DefaultAgentName
	}

	store, err := s.baseStore()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := store.DeleteCollection(r.Context(), agentName); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req RewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.fillFromBase(&req.Settings)

	res, _, err := s.reward.CompareAnswer(r.Context(), req.Settings, req.Question, req.Candidates, req.TargetAnswer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if res.Results == nil {
		res.Results = []ospa.PairwiseJudge{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBackward(w http.ResponseWriter, r *http.Request) {
	var req BackwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.fillFromBase(&req.Settings)

	res, err := s.backward.Run(r.Context(), backward.Request{
		QALists:          req.QALists,
		ChapterStructure: req.ChapterStructure,
		MaxLevel:         req.MaxLevel,
		Setting:          req.Settings,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BackwardResponse{
		ChapterStructure: res.ChapterStructure,
		OSPAList:         res.OSPAList,
		OperationLog:     res.OperationLog,
	})
}

// fillFromBase copies base-setting fields into empty request fields so
// requests may omit credentials configured at the process level.
func (s *Server) fillFromBase(setting *config.Setting) {
	base := s.base
	if setting.APIKey == "" {
		setting.APIKey = base.APIKey
	}
	if setting.ChatModel == "" {
		setting.ChatModel = base.ChatModel
	}
	if setting.BaseURL == "" {
		setting.BaseURL = base.BaseURL
	}
	if setting.VectorDBURL == "" {
		setting.VectorDBURL = base.VectorDBURL
	}
	if setting.TopK == nil {
		setting.TopK = base.TopK
	}
	if setting.EmbeddingAPIKey == "" {
		setting.EmbeddingAPIKey = base.EmbeddingAPIKey
	}
	if setting.EmbeddingModel == "" {
		setting.EmbeddingModel = base.EmbeddingModel
	}
	if setting.EmbeddingBaseURL == "" {
		setting.EmbeddingBaseURL = base.EmbeddingBaseURL
	}
	if setting.EmbeddingDimensions == 0 {
		setting.EmbeddingDimensions = base.EmbeddingDimensions
	}
	if setting.EmbeddingBatchSize == 0 {
		setting.EmbeddingBatchSize = base.EmbeddingBatchSize
	}
	if setting.LLMTimeout == 0 {
		setting.LLMTimeout = base.LLMTimeout
	}
}

func (s *Server) baseStore() (*feedback.Store, error) {
	setting := *s.base
	setting.Normalize()
	return chat.OpenStore(setting)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, config.ErrConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusBadRequest, "request cancelled")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
