package api

import (
	"net/http"

	"github.com/seenimoa/finreport/internal/config"
)

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config        *config.Config `json:"config"`
	ActiveKeySet  bool           `json:"active_key_set"`
	ProviderChain []string       `json:"provider_chain,omitempty"`
}

// handleGetConfig returns the running configuration. Keys are excluded by
// their json:"-" tags.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{
		Config:       s.cfg,
		ActiveKeySet: s.cfg.ActiveKey() != "",
	}
	if s.svc.LLM != nil {
		resp.ProviderChain = s.svc.LLM.ProviderNames()
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// handleGetConfigKeys returns the status of all sensitive API keys.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckAPIKeys(s.cfg),
	})
}
