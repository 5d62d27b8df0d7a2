package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
)

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BranchID != "" {
		if _, err := a.service.GetBranch(r.Context(), req.BranchID); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("include_deleted"))
	branches, err := a.service.ListBranches(r.Context(), includeDeleted)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	branch, err := a.service.CreateBranch(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

func (a *API) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := a.service.GetBranch(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (a *API) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteBranch(r.Context(), actorFrom(r.Context()), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBranchInventory(w http.ResponseWriter, r *http.Request) {
	branchID := r.PathValue("id")
	records, err := a.service.ListBranchInventory(r.Context(), branchID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch_id": branchID, "inventory": records})
}

func (a *API) handleSetBranchInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SetBranchInventory(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(len(resp.ApprovalIDs) > 0), resp)
}

func (a *API) handleStockTaking(w http.ResponseWriter, r *http.Request) {
	var req domain.StockCountRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.ApplyCount(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(len(summary.PendingApprovalIDs) > 0), summary)
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	moves, err := a.service.ListMovements(r.Context(), domain.MovementFilter{
		BranchID:  strings.TrimSpace(q.Get("branch_id")),
		ProductID: strings.TrimSpace(q.Get("product_id")),
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(q.Get("limit"), 200, 1000),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": moves})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	unclaimed, _ := strconv.ParseBool(q.Get("unclaimed"))
	orders, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		BranchID:      strings.TrimSpace(q.Get("branch_id")),
		Status:        domain.OrderStatus(strings.TrimSpace(q.Get("status"))),
		Channel:       strings.TrimSpace(q.Get("channel")),
		UnclaimedOnly: unclaimed,
		From:          from,
		To:            to,
		Limit:         parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.CreateOrder(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// handleGetOrder hides other customers' orders behind a 404.
func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	order, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	if err == nil && actor.Role == domain.RoleCustomer && order.CustomerID != actor.ID {
		err = store.ErrNotFound
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleClaimOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderClaimRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r.Context())
	if strings.TrimSpace(req.BranchID) == "" {
		req.BranchID = actor.BranchID
	}
	order, err := a.service.ClaimOnlineOrder(r.Context(), actor, r.PathValue("id"), req.BranchID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.SetStatus(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, outcomeStatus(res.Outcome == domain.OutcomePendingApproval), res)
}

func (a *API) handleOrderReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.RequestReturn(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approvals, err := a.service.ListApprovals(r.Context(), domain.ApprovalFilter{
		Status:   domain.ApprovalStatus(strings.TrimSpace(q.Get("status"))),
		BranchID: strings.TrimSpace(q.Get("branch_id")),
		OrderID:  strings.TrimSpace(q.Get("order_id")),
		Limit:    parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (a *API) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := a.service.GetApproval(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req domain.ApprovalResolveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	approval, err := a.service.Approve(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req.Note)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	var req domain.ApprovalResolveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	approval, err := a.service.Reject(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req.Note)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := a.service.ListInvoices(r.Context(), domain.InvoiceFilter{
		SupplierID: strings.TrimSpace(q.Get("supplier_id")),
		BranchID:   strings.TrimSpace(q.Get("branch_id")),
		Status:     domain.InvoiceStatus(strings.TrimSpace(q.Get("status"))),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.service.CreateInvoice(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("id")
	if _, err := a.service.GetInvoice(r.Context(), invoiceID); err != nil {
		a.writeServiceError(w, err)
		return
	}
	payments, err := a.service.ListPayments(r.Context(), invoiceID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.RecordPayment(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleMovementReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	rows, err := a.service.MovementReport(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("branch_id"), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (a *API) handleReturnsReport(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.ReturnsReport(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("branch_id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (a *API) handleSupplierBalances(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.SupplierBalances(r.Context(), actorFrom(r.Context()))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	rows, err := a.service.SalesSummary(r.Context(), actorFrom(r.Context()), q.Get("branch_id"), from, to, q.Get("group_by"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), actorFrom(r.Context()), q.Get("branch_id"), from, to, parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
