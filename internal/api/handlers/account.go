package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/services"
)

// AccountHandler handles mailbox account related requests
type AccountHandler struct {
	accountService *services.AccountService
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(accountService *services.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

// CreateAccountRequest represents the request to create an account
type CreateAccountRequest struct {
	Name     string `json:"name" binding:"required"`
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	UseTLS   *bool  `json:"use_tls"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UpdateAccountRequest represents the request to update an account.
// Omitted fields keep their stored value.
type UpdateAccountRequest struct {
	Name     *string `json:"name"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	UseTLS   *bool   `json:"use_tls"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Status   *string `json:"status"`
}

// TestConnectionRequest carries unsaved credentials
type TestConnectionRequest struct {
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	UseTLS   *bool  `json:"use_tls"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// ListAccounts returns all accounts with their email counts
// GET /api/accounts
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountService.ListAccounts()
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve accounts")
		return
	}
	respondOK(c, http.StatusOK, accounts)
}

// CreateAccount creates a new account
// POST /api/accounts
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    CodeValidation,
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	account, err := h.accountService.CreateAccount(services.CreateAccountInput{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		UseTLS:   boolOr(req.UseTLS, true),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		respondServiceError(c, err, "Failed to create account")
		return
	}
	respondOK(c, http.StatusCreated, account)
}

// GetAccount returns a specific account
// GET /api/accounts/:id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	account, err := h.accountService.GetAccountByID(id)
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve account")
		return
	}
	respondOK(c, http.StatusOK, account)
}

// UpdateAccount updates an account
// PUT /api/accounts/:id
func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}

	input := services.UpdateAccountInput{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		UseTLS:   req.UseTLS,
		Username: req.Username,
		Password: req.Password,
	}
	if req.Status != nil {
		status := models.AccountStatus(*req.Status)
		input.Status = &status
	}

	account, err := h.accountService.UpdateAccount(id, input)
	if err != nil {
		respondServiceError(c, err, "Failed to update account")
		return
	}
	respondOK(c, http.StatusOK, account)
}

// DeleteAccount deletes an account that holds no retained emails
// DELETE /api/accounts/:id
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.accountService.DeleteAccount(id); err != nil {
		respondServiceError(c, err, "Failed to delete account")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Account deleted successfully"})
}

// SelectAccount makes an ACTIVE account the ingestion source
// PUT /api/accounts/:id/select
func (h *AccountHandler) SelectAccount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	account, err := h.accountService.SelectAccount(id)
	if err != nil {
		respondServiceError(c, err, "Failed to select account")
		return
	}
	respondOK(c, http.StatusOK, account)
}

// GetSelectedAccount returns the current ingestion source, or null
// GET /api/accounts/selected
func (h *AccountHandler) GetSelectedAccount(c *gin.Context) {
	account, err := h.accountService.GetSelectedAccount()
	if err != nil {
		if status, _ := classify(err); status == http.StatusNotFound {
			respondOK(c, http.StatusOK, nil)
			return
		}
		respondServiceError(c, err, "Failed to retrieve selected account")
		return
	}
	respondOK(c, http.StatusOK, account)
}

// TestConnection tests a stored account's credentials
// POST /api/accounts/:id/test
func (h *AccountHandler) TestConnection(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := h.accountService.TestConnectionByID(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "Failed to test connection")
		return
	}
	respondOK(c, http.StatusOK, result)
}

// TestConnectionDirect tests credentials without saving them
// POST /api/accounts/test
func (h *AccountHandler) TestConnectionDirect(c *gin.Context) {
	var req TestConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "All connection fields are required")
		return
	}

	result, err := h.accountService.TestConnectionDirect(c.Request.Context(), services.TestConnectionInput{
		Host:     req.Host,
		Port:     req.Port,
		UseTLS:   boolOr(req.UseTLS, true),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		respondServiceError(c, err, "Failed to test connection")
		return
	}
	respondOK(c, http.StatusOK, result)
}

// EnableAccount sets an account ACTIVE
// PUT /api/accounts/:id/enable
func (h *AccountHandler) EnableAccount(c *gin.Context) {
	h.setStatus(c, models.AccountStatusActive)
}

// DisableAccount sets an account INACTIVE and clears its selection
// PUT /api/accounts/:id/disable
func (h *AccountHandler) DisableAccount(c *gin.Context) {
	h.setStatus(c, models.AccountStatusInactive)
}

func (h *AccountHandler) setStatus(c *gin.Context, status models.AccountStatus) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	account, err := h.accountService.SetStatus(id, status)
	if err != nil {
		respondServiceError(c, err, "Failed to update account status")
		return
	}
	respondOK(c, http.StatusOK, account)
}
