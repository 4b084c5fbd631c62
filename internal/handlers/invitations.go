package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/leasehub/internal/services"
	appErrors "github.com/charlesng35/leasehub/pkg/errors"
	"github.com/charlesng35/leasehub/pkg/response"
)

// Invitation actions accepted by the actions endpoint.
const (
	ActionValidateToken     = "validateToken"
	ActionCreateInvitedUser = "createInvitedUser"
	ActionLinkExistingUser  = "linkExistingUser"
	ActionResend            = "resend"
)

// InvitationHandler exposes invitation redemption and management over HTTP.
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

type actionRequest struct {
	Action string `json:"action" validate:"required"`
}

type validateTokenRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type createInvitedUserRequest struct {
	Token      string `json:"token" validate:"required,urltoken"`
	Email      string `json:"email" validate:"required,notblank,max=320"`
	PropertyID string `json:"propertyId" validate:"required,notblank"`
	Role       string `json:"role" validate:"required"`
	FirstName  string `json:"firstName" validate:"required,notblank,max=128"`
	LastName   string `json:"lastName" validate:"required,notblank,max=128"`
	Password   string `json:"password" validate:"required,max=256"`
}

type linkExistingUserRequest struct {
	Token      string `json:"token" validate:"required,urltoken"`
	Email      string `json:"email" validate:"required,notblank,max=320"`
	PropertyID string `json:"propertyId" validate:"required,notblank"`
	Role       string `json:"role" validate:"required"`
	UserID     string `json:"userId"`
}

type resendRequest struct {
	InvitationID   string `json:"invitation_id" validate:"required,notblank"`
	InvitationType string `json:"invitation_type" validate:"required"`
}

type issueInvitationRequest struct {
	Email string `json:"email" validate:"required,notblank,max=320"`
	Role  string `json:"role" validate:"required"`
}

// Actions dispatches POST /api/invitations/actions on the action field.
func (h *InvitationHandler) Actions(c *gin.Context) {
	var req actionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	switch strings.TrimSpace(req.Action) {
	case ActionValidateToken:
		h.validateToken(c)
	case ActionCreateInvitedUser:
		h.createInvitedUser(c)
	case ActionLinkExistingUser:
		h.linkExistingUser(c)
	case ActionResend:
		h.resend(c)
	default:
		response.Error(c, appErrors.NewBadRequest("unknown action"))
	}
}

func (h *InvitationHandler) validateToken(c *gin.Context) {
	var req validateTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.invitations.ValidateToken(requestContext(c), req.Token, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *InvitationHandler) createInvitedUser(c *gin.Context) {
	var req createInvitedUserRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, ok := parseRole(c, "role", req.Role)
	if !ok {
		return
	}

	result, err := h.invitations.CreateInvitedUser(requestContext(c), services.CreateInvitedUserInput{
		Token:      req.Token,
		Email:      req.Email,
		PropertyID: req.PropertyID,
		Role:       role,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Password:   req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

func (h *InvitationHandler) linkExistingUser(c *gin.Context) {
	var req linkExistingUserRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, ok := parseRole(c, "role", req.Role)
	if !ok {
		return
	}

	// A signed-in caller can only link their own account.
	userID := strings.TrimSpace(req.UserID)
	if caller := callerID(c); caller != "" {
		if userID != "" && userID != caller {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		userID = caller
	}

	result, err := h.invitations.LinkExistingUser(requestContext(c), services.LinkExistingUserInput{
		Token:      req.Token,
		Email:      req.Email,
		PropertyID: req.PropertyID,
		Role:       role,
		UserID:     userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *InvitationHandler) resend(c *gin.Context) {
	caller := callerID(c)
	if caller == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req resendRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, ok := parseRole(c, "invitation_type", req.InvitationType)
	if !ok {
		return
	}

	result, err := h.invitations.Resend(requestContext(c), services.ResendInput{
		InvitationID: req.InvitationID,
		Role:         role,
		RequestedBy:  caller,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Issue handles POST /api/properties/:id/invitations.
func (h *InvitationHandler) Issue(c *gin.Context) {
	var req issueInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}
	role, ok := parseRole(c, "role", req.Role)
	if !ok {
		return
	}

	result, err := h.invitations.Issue(requestContext(c), services.IssueInput{
		PropertyID: c.Param("id"),
		Email:      req.Email,
		Role:       role,
		IssuedBy:   callerID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// Activity handles GET /api/properties/:id/invitations/activity.
func (h *InvitationHandler) Activity(c *gin.Context) {
	input := services.ActivityInput{
		PropertyID:  c.Param("id"),
		RequestedBy: callerID(c),
		Action:      c.Query("action"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			response.Error(c, appErrors.NewBadRequest("limit must be a positive integer"))
			return
		}
		input.Limit = limit
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("since must be an RFC3339 timestamp"))
			return
		}
		input.Since = &since
	}

	logs, err := h.invitations.Activity(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, logs)
}

// Link handles GET /api/invitations/:id/link?type=tenant|service_provider.
func (h *InvitationHandler) Link(c *gin.Context) {
	role, ok := parseRole(c, "type", c.Query("type"))
	if !ok {
		return
	}

	result, err := h.invitations.Link(requestContext(c), c.Param("id"), role, callerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
