package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/response"
)

// AccountHandler drives account deletion.
type AccountHandler struct {
	accounts *services.AccountService
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type deleteAccountRequest struct {
	TransferMappings []services.TransferMapping `json:"transfer_mappings"`
	TransferGroups   []string                   `json:"transfer_groups"`
}

// GET /api/account/deletion-analysis
func (h *AccountHandler) Analyze(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	analysis, err := h.accounts.AnalyzeDeletion(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, analysis)
}

// DELETE /api/account
func (h *AccountHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req deleteAccountRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}

	report, err := h.accounts.DeleteAccount(requestContext(c), userID, services.DeleteAccountInput{
		Mappings:       req.TransferMappings,
		TransferGroups: req.TransferGroups,
	})
	if err != nil {
		if report != nil && stderrors.Is(err, services.ErrAccountDeletionIncomplete) {
			response.ErrorWithDetails(c, err, report)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}
