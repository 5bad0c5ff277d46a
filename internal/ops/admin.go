package ops

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medtrack/internal/types"
)

type resetRequest struct {
	Offset int64 `json:"offset"`
}

type resetResponse struct {
	Stream    string `json:"stream"`
	Group     string `json:"group"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

type sweepAccepted struct {
	EventID string `json:"event_id"`
}

// HandleStats returns per-partition job counts for a group.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if s.JobLog == nil {
		s.Error(w, r, types.NewAppError(types.ErrCodeNotFoundStream, "job log is not attached to this process", nil))
		return
	}
	stats, err := s.JobLog.Stats(r.Context(), chi.URLParam(r, "stream"), chi.URLParam(r, "group"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, stats)
}

// HandleResetCursor rewinds a group's partition so entries after offset are
// redelivered. An empty body replays the whole partition.
func (s *Server) HandleResetCursor(w http.ResponseWriter, r *http.Request) {
	if s.JobLog == nil {
		s.Error(w, r, types.NewAppError(types.ErrCodeNotFoundStream, "job log is not attached to this process", nil))
		return
	}
	partition, err := strconv.Atoi(chi.URLParam(r, "partition"))
	if err != nil {
		s.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJob, "partition must be an integer", err))
		return
	}
	var req resetRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}

	stream, group := chi.URLParam(r, "stream"), chi.URLParam(r, "group")
	if err := s.JobLog.ResetCursor(r.Context(), stream, group, partition, req.Offset); err != nil {
		s.Error(w, r, err)
		return
	}
	s.Logger.Warn("Consumer cursor reset by operator",
		"stream", stream, "group", group, "partition", partition, "offset", req.Offset,
		"request_id", types.GetRequestID(r.Context()))
	JSON(w, r, http.StatusOK, resetResponse{Stream: stream, Group: group, Partition: partition, Offset: req.Offset})
}

// HandleSweep triggers a missed-dose sweep for one member. With a publisher
// the sweep is queued (202); otherwise it runs in-process (200).
func (s *Server) HandleSweep(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "memberID"), 10, 64)
	if err != nil || memberID <= 0 {
		s.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEvent, "member id must be a positive integer", err))
		return
	}
	if s.Members != nil {
		exists, err := s.Members.MemberExists(r.Context(), memberID)
		if err != nil {
			s.Error(w, r, err)
			return
		}
		if !exists {
			s.Error(w, r, types.NewAppError(types.ErrCodeNotFoundMember, "member not found", nil))
			return
		}
	}

	switch {
	case s.Publisher != nil:
		id, err := s.Publisher.Publish(r.Context(), types.DomainEvent{Type: types.EventSweepRequested, MemberID: memberID})
		if err != nil {
			s.Error(w, r, err)
			return
		}
		JSON(w, r, http.StatusAccepted, sweepAccepted{EventID: id})
	case s.Sweeper != nil:
		result, err := s.Sweeper.SweepMissedDoses(r.Context(), memberID)
		if err != nil {
			s.Error(w, r, err)
			return
		}
		JSON(w, r, http.StatusOK, result)
	default:
		s.Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable, "no sweep backend configured", nil))
	}
}
