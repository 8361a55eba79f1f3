package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status": "ok",
		"services": map[string]bool{
			"images":    a.Images != nil,
			"documents": a.Documents != nil,
			"ledger":    a.Jobs != nil,
		},
	})
}
