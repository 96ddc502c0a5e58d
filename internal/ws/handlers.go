package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/activity"
	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/evidence"
	"github.com/school-parliament/portal/internal/leaderboard"
	"github.com/school-parliament/portal/internal/progression"
	"github.com/school-parliament/portal/internal/storage"
	"github.com/school-parliament/portal/internal/tasks"
)

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathCurrency(w http.ResponseWriter, r *http.Request) (domain.Currency, bool) {
	c := domain.Currency(strings.ToUpper(chi.URLParam(r, "currency")))
	if !c.Valid() {
		writeError(w, http.StatusBadRequest, "currency must be XP or EP")
		return "", false
	}
	return c, true
}

// selfOr allows the user themselves or an actor passing gate.
func selfOr(actor domain.Actor, userID uuid.UUID, gate func(domain.Actor) bool) bool {
	return actor.UserID == userID || gate(actor)
}

func isAdmin(a domain.Actor) bool { return a.Role == domain.RoleAdmin }

// ─── Users ──────────────────────────────────────────────────────────────────

type userRequest struct {
	DisplayName string      `json:"displayName" validate:"notblank,max=120"`
	Role        domain.Role `json:"role" validate:"required,oneof=student member curator admin"`
	Ministry    string      `json:"ministry" validate:"max=120"`
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !isAdmin(actor) {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	var req userRequest
	if !s.decode(w, r, &req) {
		return
	}
	u := &domain.UserProfile{ID: id, DisplayName: strings.TrimSpace(req.DisplayName), Role: req.Role, Ministry: req.Ministry}
	if err := s.svc.Users.UpsertUser(r.Context(), u); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := s.svc.Users.GetUser(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ─── Ledger & progression ───────────────────────────────────────────────────

type currencyTotal struct {
	Total int64            `json:"total"`
	Rank  progression.Rank `json:"rank"`
}

type totalsResponse struct {
	UserID uuid.UUID          `json:"userId"`
	XP     currencyTotal      `json:"xp"`
	EP     currencyTotal      `json:"ep"`
	League progression.League `json:"league"`
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	xp, ep, err := s.svc.Ledger.Totals(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsResponse{
		UserID: id,
		XP:     currencyTotal{Total: xp, Rank: progression.RankFor(domain.XP, xp)},
		EP:     currencyTotal{Total: ep, Rank: progression.RankFor(domain.EP, ep)},
		League: s.svc.Leaderboard.League(ep),
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, ok := pathCurrency(w, r)
	if !ok {
		return
	}
	entries, err := s.svc.Ledger.Entries(r.Context(), id, c)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, ok := pathCurrency(w, r)
	if !ok {
		return
	}
	total, err := s.svc.Ledger.TotalFor(r.Context(), id, c)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progression.RankFor(c, total))
}

type grantRequest struct {
	UserID   uuid.UUID       `json:"userId" validate:"required"`
	Currency domain.Currency `json:"currency" validate:"required,oneof=XP EP"`
	Amount   int64           `json:"amount"`
	Reason   string          `json:"reason" validate:"notblank,max=200"`
}

// handleGrant records a manual grant. Admin only.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	if !isAdmin(actor) {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.svc.Ledger.Grant(r.Context(), req.UserID, req.Currency, req.Amount, "manual:"+strings.TrimSpace(req.Reason))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleStandings serves ?ministry=&role=&governance=true. Governance
// standings viewed by an identified actor get the viewer re-sort.
func (s *Server) handleStandings(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCurrency(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	scope := leaderboard.Scope{Ministry: q.Get("ministry")}
	governance := q.Get("governance") == "true"
	if governance {
		scope = leaderboard.GovernanceScope(scope.Ministry)
	}
	if role := q.Get("role"); role != "" {
		scope.Roles = []domain.Role{domain.Role(strings.ToLower(role))}
	}
	out, err := s.svc.Leaderboard.Standings(r.Context(), c, scope)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if viewer, ok := actorFrom(r.Context()); ok && governance {
		if out, err = s.svc.Leaderboard.ForViewer(r.Context(), out, viewer); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if out == nil {
		out = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGovernance is the XP board of the governance body as the caller
// sees it: ties favour the caller's ministry.
func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	viewer, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Leaderboard.Governance(r.Context(), viewer, r.URL.Query().Get("ministry"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if out == nil {
		out = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Achievements & activity ────────────────────────────────────────────────

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := s.svc.Achievements.Available(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUnlocked(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := s.svc.Achievements.Unlocked(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.UnlockedAchievement{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !selfOr(actor, id, domain.Actor.IsCurator) {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	defs, err := s.svc.Achievements.Evaluate(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"unlocked": ids})
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.svc.Activity.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAddActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !actor.IsCurator() {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	var d activity.Delta
	if !s.decode(w, r, &d) {
		return
	}
	a, err := s.svc.Activity.Add(r.Context(), id, d)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !selfOr(actor, id, isAdmin) {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	a, err := s.svc.Activity.RecordLogin(r.Context(), id, time.Time{})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var in tasks.NewTask
	if !s.decode(w, r, &in) {
		return
	}
	t, err := s.svc.Tasks.CreateTask(r.Context(), actor, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.TaskFilter{
		Type:     domain.TaskType(strings.ToUpper(q.Get("type"))),
		Status:   domain.TaskStatus(strings.ToUpper(q.Get("status"))),
		Ministry: q.Get("ministry"),
	}
	if raw := q.Get("assignedTo"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "assignedTo must be a UUID")
			return
		}
		f.AssignedTo = &id
	}
	list, err := s.svc.Tasks.Tasks(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.svc.Tasks.Task(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := s.svc.Tasks.Review(r.Context(), actor, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submissionRequest struct {
	Description   string   `json:"description"`
	EvidenceLinks []string `json:"evidenceLinks"`
}

func (req submissionRequest) submission() tasks.Submission {
	return tasks.Submission{Description: req.Description, EvidenceLinks: req.EvidenceLinks}
}

// verify runs the advisory evidence check for a submission on subject,
// taken at takenAt. Failures are logged and leave the report empty: they
// never block a submission.
func (s *Server) verify(ctx context.Context, subject uuid.UUID, sub tasks.Submission, takenAt time.Time) *domain.VerificationReport {
	if s.svc.Verifier == nil {
		return nil
	}
	r, err := s.svc.Verifier.Verify(ctx, evidence.Submission{
		SubjectID:   subject,
		Description: sub.Description,
		Links:       sub.EvidenceLinks,
		TakenAt:     takenAt,
		SubmittedAt: s.svc.Clock(),
	})
	if err != nil {
		s.log.Warn("evidence verification failed", "subject", subject, "error", err)
		return nil
	}
	return r
}

type feedbackRequest struct {
	Feedback string `json:"feedback" validate:"max=2000"`
}

// transition runs a task or instance transition for the identified actor
// and writes the updated entity.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, body interface{}, run func(domain.Actor, uuid.UUID) (interface{}, error)) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if body != nil && !s.decode(w, r, body) {
		return
	}
	out, err := run(actor, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, nil, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.Start(r.Context(), a, id)
	})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, nil, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.ReturnToQueue(r.Context(), a, id)
	})
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	s.transition(w, r, &req, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		sub := req.submission()
		if cur, err := s.svc.Tasks.Task(r.Context(), id); err == nil {
			sub.Verification = s.verify(r.Context(), id, sub, cur.UpdatedAt)
		}
		return s.svc.Tasks.SubmitTask(r.Context(), a, id, sub)
	})
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, nil, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.ApproveTask(r.Context(), a, id)
	})
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	s.transition(w, r, &req, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.RejectTask(r.Context(), a, id, req.Feedback)
	})
}

func (s *Server) handleReopenTask(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, nil, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.ReopenTask(r.Context(), a, id)
	})
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := s.svc.Tasks.TakeInstance(r.Context(), actor, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := s.svc.Tasks.Instances(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.PublicTaskInstance{}
	}
	writeJSON(w, http.StatusOK, list)
}

type selectTopRequest struct {
	InstanceIDs []uuid.UUID `json:"instanceIds"`
}

func (s *Server) handleSelectTop(w http.ResponseWriter, r *http.Request) {
	var req selectTopRequest
	s.transition(w, r, &req, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.SelectTop(r.Context(), a, id, req.InstanceIDs)
	})
}

func (s *Server) handleAwardTop(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, nil, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.AwardTop(r.Context(), a, id)
	})
}

// handleAwardDue runs the due-award sweep on demand. Curators only.
func (s *Server) handleAwardDue(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsCurator() {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	n, err := s.svc.Tasks.AwardDue(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"awarded": n})
}

// ─── Instances ──────────────────────────────────────────────────────────────

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := s.svc.Tasks.Instance(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleSubmitInstance(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	s.transition(w, r, &req, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		sub := req.submission()
		if cur, err := s.svc.Tasks.Instance(r.Context(), id); err == nil {
			sub.Verification = s.verify(r.Context(), id, sub, cur.CreatedAt)
		}
		return s.svc.Tasks.SubmitInstance(r.Context(), a, id, sub)
	})
}

func (s *Server) handleApproveInstance(w http.ResponseWriter, r *http.Request) {
	var opts tasks.ApproveOptions
	s.transition(w, r, &opts, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.ApproveInstance(r.Context(), a, id, opts)
	})
}

func (s *Server) handleRejectInstance(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	s.transition(w, r, &req, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.RejectInstance(r.Context(), a, id, req.Feedback)
	})
}

func (s *Server) handleReopenInstance(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, nil, func(a domain.Actor, id uuid.UUID) (interface{}, error) {
		return s.svc.Tasks.ReopenInstance(r.Context(), a, id)
	})
}
