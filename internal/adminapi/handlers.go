package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/nsmesh/internal/engine"
	"github.com/jroosing/nsmesh/internal/status"
)

// Handler holds everything the admin API needs to answer a request. It
// calls nothing on engine beyond Snapshot and Self: Snapshot is the one
// state read safe from a goroutine other than the event loop (see
// engine.Engine's mu doc comment), and Self returns the node's
// identity, which never changes after startup.
type Handler struct {
	eng      *engine.Engine
	counters *status.Counters
	startAt  time.Time
}

// NewHandler builds a Handler. eng, counters and startAt are shared with
// the event loop but never mutated here.
func NewHandler(eng *engine.Engine, counters *status.Counters, startAt time.Time) *Handler {
	return &Handler{eng: eng, counters: counters, startAt: startAt}
}

// Health godoc
// @Summary Health check
// @Description Returns server liveness
// @Tags system
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Status godoc
// @Summary Node status
// @Description Returns join/find state, roster size and process statistics
// @Tags system
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /status [get]
func (h *Handler) Status(c *gin.Context) {
	snap := h.eng.Snapshot()
	s := status.Take(h.startAt, h.counters, snap)
	c.JSON(http.StatusOK, StatsResponse{
		Uptime:        s.Uptime,
		UptimeSeconds: s.UptimeSeconds,
		NumCPU:        s.NumCPU,
		CPUPercent:    s.CPUPercent,
		MemUsedMB:     s.MemUsedMB,
		MemTotalMB:    s.MemTotalMB,
		MemPercent:    s.MemPercent,
		Counters: CountersResponse{
			JoinsAttempted:   s.Counters.JoinsAttempted,
			JoinsSucceeded:   s.Counters.JoinsSucceeded,
			JoinsAborted:     s.Counters.JoinsAborted,
			Leaves:           s.Counters.Leaves,
			Finds:            s.Counters.Finds,
			SequenceTimeouts: s.Counters.SequenceTimeouts,
			RegsServed:       s.Counters.RegsServed,
			UnrsServed:       s.Counters.UnrsServed,
			QrysServed:       s.Counters.QrysServed,
		},
		JoinStatus: s.JoinStatus,
		FindStatus: s.FindStatus,
		NameServer: s.NameServer,
		RosterSize: s.RosterSize,
	})
}

// Roster godoc
// @Summary Family roster
// @Description Returns every contact this node currently believes is in the family
// @Tags system
// @Produce json
// @Success 200 {object} RosterResponse
// @Router /roster [get]
func (h *Handler) Roster(c *gin.Context) {
	snap := h.eng.Snapshot()
	contacts := make([]RosterContactResponse, len(snap.Roster))
	for i, rc := range snap.Roster {
		contacts[i] = RosterContactResponse{Name: rc.Name, IP: rc.IP, TalkPort: rc.TalkPort, DNSPort: rc.DNSPort}
	}
	c.JSON(http.StatusOK, RosterResponse{Self: h.eng.Self().Name, Contacts: contacts})
}
