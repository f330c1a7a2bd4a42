package compatserver

import (
	"net/http"

	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

type healthReport struct {
	Status   string       `json:"status"`
	Sessions sessionCount `json:"sessions"`
}

type sessionCount struct {
	Streamable int `json:"streamable"`
	Legacy     int `json:"legacy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	counts := s.sessions.Counts()
	writeJSON(w, http.StatusOK, healthReport{
		Status: "ok",
		Sessions: sessionCount{
			Streamable: counts[session.GenerationStreamable],
			Legacy:     counts[session.GenerationLegacy],
		},
	})
}
