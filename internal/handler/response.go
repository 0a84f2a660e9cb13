package handler

import (
	"net/http"

	"github.com/waconnect/bridge-server-go/internal/httputil"
	"github.com/waconnect/bridge-server-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func formatInstance(inst *model.Instance) map[string]any {
	return map[string]any{
		"id":           inst.ID,
		"displayName":  inst.DisplayName,
		"status":       inst.Status,
		"phoneNumber":  inst.PhoneNumber,
		"ignoreGroups": inst.IgnoreGroups,
	}
}
