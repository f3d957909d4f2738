package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"inventoryhub/dashboard/internal/audit"
	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/inventory"
)

func (h *Handler) registerResourceHandlers() {
	inv := h.deps.Inventory
	if inv == nil {
		h.mux.HandleFunc("/v1/", func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "inventory service unavailable")
		})
		return
	}
	registerCollection(h, "products", inv.Products, auth.RoleStaff)
	registerCollection(h, "categories", inv.Categories, auth.RoleStaff)
	registerCollection(h, "suppliers", inv.Suppliers, auth.RoleStaff)
	registerCollection(h, "users", inv.Users, auth.RoleAdmin)
	h.registerTransactionHandlers(inv)
}

// registerCollection exposes list/get to any signed-in user and gates
// create/update/delete on writeRole. User records are admin-only to read as
// well. Users cannot be created here; accounts come from registration.
func registerCollection[T any](h *Handler, name string, res *inventory.Resource[T], writeRole auth.Role) {
	base := "/v1/" + name
	action := strings.TrimSuffix(name, "s")
	if name == "categories" {
		action = "category"
	}
	readRole := auth.Role("")
	if name == "users" {
		readRole = auth.RoleAdmin
	}

	h.mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if _, ok := h.requireRole(w, readRole); !ok {
				return
			}
			items, err := res.List(r.Context())
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			if name == "users" {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			user, ok := h.requireRole(w, writeRole)
			if !ok {
				return
			}
			body, ok := decodeBody(w, r)
			if !ok {
				return
			}
			created, err := res.Create(r.Context(), body)
			if err != nil {
				auditReq(h.deps.Audit, r, user.Username, action+".create", "", audit.OutcomeFailed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(h.deps.Audit, r, user.Username, action+".create", "", audit.OutcomeSuccess, "")
			writeJSON(w, http.StatusCreated, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	h.mux.HandleFunc(base+"/", func(w http.ResponseWriter, r *http.Request) {
		rawID := strings.TrimPrefix(r.URL.Path, base+"/")
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusNotFound, action+" not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			if _, ok := h.requireRole(w, readRole); !ok {
				return
			}
			item, err := res.Get(r.Context(), id)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodPut:
			user, ok := h.requireRole(w, writeRole)
			if !ok {
				return
			}
			body, ok := decodeBody(w, r)
			if !ok {
				return
			}
			updated, err := res.Update(r.Context(), id, body)
			if err != nil {
				auditReq(h.deps.Audit, r, user.Username, action+".update", rawID, audit.OutcomeFailed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(h.deps.Audit, r, user.Username, action+".update", rawID, audit.OutcomeSuccess, "")
			writeJSON(w, http.StatusOK, updated)
		case http.MethodDelete:
			user, ok := h.requireRole(w, writeRole)
			if !ok {
				return
			}
			if err := res.Delete(r.Context(), id); err != nil {
				auditReq(h.deps.Audit, r, user.Username, action+".delete", rawID, audit.OutcomeFailed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(h.deps.Audit, r, user.Username, action+".delete", rawID, audit.OutcomeSuccess, "")
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

func (h *Handler) registerTransactionHandlers(inv *inventory.Service) {
	h.mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if _, ok := h.requireRole(w, ""); !ok {
				return
			}
			var (
				items []inventory.Transaction
				err   error
			)
			if pid := r.URL.Query().Get("product_id"); pid != "" {
				id, convErr := strconv.ParseInt(pid, 10, 64)
				if convErr != nil {
					writeError(w, http.StatusBadRequest, "product_id must be an integer")
					return
				}
				items, err = inv.ProductTransactions(r.Context(), id)
			} else {
				items, err = inv.Transactions.List(r.Context())
			}
			if err != nil {
				writeAPIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			user, ok := h.requireRole(w, auth.RoleStaff)
			if !ok {
				return
			}
			var in inventory.TransactionInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			tx, err := inv.RecordTransaction(r.Context(), in)
			if err != nil {
				auditReq(h.deps.Audit, r, user.Username, "transaction.create", strconv.FormatInt(in.ProductID, 10), audit.OutcomeFailed, err.Error())
				writeAPIError(w, err)
				return
			}
			auditReq(h.deps.Audit, r, user.Username, "transaction.create", strconv.FormatInt(in.ProductID, 10), audit.OutcomeSuccess, in.ActionType)
			writeJSON(w, http.StatusCreated, tx)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	h.mux.HandleFunc("/v1/products/low-stock", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, ok := h.requireRole(w, ""); !ok {
			return
		}
		items, err := inv.LowStock(r.Context())
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	h.mux.HandleFunc("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, ok := h.requireRole(w, ""); !ok {
			return
		}
		st, err := inv.DashboardStats(r.Context())
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return body, true
}
