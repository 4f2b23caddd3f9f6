package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/credit-stake-ea/internal/model"
	"github.com/yourorg/credit-stake-ea/internal/scoring"
	"github.com/yourorg/credit-stake-ea/internal/security"
	"github.com/yourorg/credit-stake-ea/internal/validation"
)

type userRequest struct {
	User string `json:"user"`
}

type scoreRequest struct {
	User    string              `json:"user"`
	Metrics model.WalletMetrics `json:"metrics"`
}

type stakeRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type claimRequest struct {
	User string `json:"user"`
	// Score defaults to the committed score of the user
	Score *model.Score `json:"score,omitempty"`
}

type scoreResponse struct {
	User        string                `json:"user"`
	HasScore    bool                  `json:"hasScore"`
	Score       model.Score           `json:"score"`
	Rate        float64               `json:"rate"`
	Attestation *security.Attestation `json:"attestation,omitempty"`
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"uptime":    time.Since(startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCircuitStatus allows viewing and resetting the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		http.Error(w, "Circuit breaker not enabled", http.StatusServiceUnavailable)
		return
	}

	response := map[string]interface{}{}
	if r.Method == http.MethodPost && r.URL.Query().Get("action") == "reset" {
		s.breaker.Reset()
		response["message"] = "Circuit breaker reset"
	}
	response["state"] = s.breaker.GetState().String()
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleScoreStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	user, err := validation.NormalizeAddress(r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := s.engine.GetScoreStatus(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scoreResponse(user, status))
}

func (s *Server) handleComputeScore(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req scoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	score, err := s.engine.ComputeScore(r.Context(), req.User, req.Metrics)
	if err != nil {
		writeError(w, err)
		return
	}
	user, _ := validation.NormalizeAddress(req.User)
	writeJSON(w, http.StatusOK, s.scoreResponse(user, model.ScoreStatus{HasScore: true, Score: score}))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	analysis, err := s.engine.Analyze(r.Context(), req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": analysis,
		"score":    s.scoreResponse(analysis.User, model.ScoreStatus{HasScore: true, Score: analysis.Score}),
	})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	score, ok, err := queryScore(r, "score")
	if err == nil && !ok {
		err = fmt.Errorf("%w: missing score", model.ErrInvalidInput)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	tier := scoring.TierFor(score)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"score":    score,
		"rate":     tier.Rate,
		"minScore": tier.MinScore,
		"tiers":    scoring.Tiers,
		"baseRate": scoring.BaseRate,
	})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req stakeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := validation.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, err := s.engine.Stake(r.Context(), req.User, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	var score model.Score
	if req.Score != nil {
		score = *req.Score
	} else {
		status, err := s.engine.GetScoreStatus(r.Context(), req.User)
		if err != nil {
			writeError(w, err)
			return
		}
		score = status.Score
	}

	res, err := s.engine.Claim(r.Context(), req.User, score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Withdraw(r.Context(), req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	user := r.URL.Query().Get("user")
	pos, err := s.engine.GetUserPosition(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	canClaim, err := s.engine.CanClaim(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	response := map[string]interface{}{
		"position": pos,
		"canClaim": canClaim,
	}

	score, ok, err := queryScore(r, "score")
	if err != nil {
		writeError(w, err)
		return
	}
	if ok {
		reward, err := s.engine.PendingReward(r.Context(), user, score)
		if err != nil {
			writeError(w, err)
			return
		}
		response["pendingReward"] = reward
	}
	if sub, busy := s.engine.Pending(user); busy {
		response["pending"] = sub
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	pos, err := s.engine.Sync(r.Context(), req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Resume(r.Context(), req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// scoreResponse attaches the rate and, when enabled, a signed attestation
func (s *Server) scoreResponse(user string, status model.ScoreStatus) scoreResponse {
	resp := scoreResponse{
		User:     user,
		HasScore: status.HasScore,
		Score:    status.Score,
		Rate:     scoring.ResolveRate(status.Score),
	}
	if s.attestor != nil && status.HasScore {
		att, err := s.attestor.Attest(user, status.Score)
		if err != nil {
			logrus.WithField("user", user).WithError(err).Warn("Failed to attest score")
		} else {
			resp.Attestation = &att
		}
	}
	return resp
}
