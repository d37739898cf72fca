package handlers

import (
	"errors"
	"loyalty-app/internal/api/response"
	"loyalty-app/internal/auth"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"
	redeemService "loyalty-app/internal/service/redeem"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxHistoryLimit = 100

type RedeemRequest struct {
	Code string `json:"code"`
}

type RedeemResponse struct {
	Success     bool   `json:"success"`
	Code        string `json:"code"`
	PointsAdded int    `json:"pointsAdded"`
	TotalPoints int    `json:"totalPoints"`
}

type PointsResponse struct {
	UserID      string            `json:"userId"`
	DisplayName string            `json:"displayName"`
	Points      int               `json:"points"`
	History     []db.PointHistory `json:"history"`
}

type IssueCodesRequest struct {
	Count  int `json:"count"`
	Points int `json:"points"`
}

type IssuedCode struct {
	Code      string    `json:"code"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
}

type IssueCodesResponse struct {
	Codes []IssuedCode `json:"codes"`
}

// RedeemHandlers serves points redemption, balance and code issuing
type RedeemHandlers struct {
	redeemService *redeemService.RedeemService
}

// NewRedeemHandlers creates a new RedeemHandlers
func NewRedeemHandlers(service *redeemService.RedeemService) *RedeemHandlers {
	return &RedeemHandlers{redeemService: service}
}

// RedeemHandler credits the points of a code to the signed-in user
func (rh *RedeemHandlers) RedeemHandler(c *gin.Context) {
	claims, ok := auth.UserFromContext(c)
	if !ok {
		response.SendError(c, http.StatusUnauthorized, "unauthorized", "Please sign in with LINE again.", nil)
		return
	}

	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid_request", "Invalid request body.", err)
		return
	}

	result, err := rh.redeemService.Redeem(c.Request.Context(), req.Code, claims.UserID(), claims.Name)
	if err != nil {
		switch {
		case errors.Is(err, redeemService.ErrInvalidCode):
			response.SendError(c, http.StatusBadRequest, "invalid_code", "Please check the code and try again.", err)
		case errors.Is(err, db.ErrCodeNotFound):
			response.SendError(c, http.StatusNotFound, "code_not_found", "This code does not exist.", err)
		case errors.Is(err, db.ErrCodeAlreadyUsed):
			response.SendError(c, http.StatusConflict, "code_already_used", "This code has already been used.", err)
		default:
			response.SendRetryableError(c, http.StatusServiceUnavailable, "redeem_failed", "Could not redeem the code right now. Please try again.", 0, err)
		}
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":      claims.UserID(),
		"code":         result.Code,
		"points_added": result.PointsAdded,
	}).Info("Code redeemed")

	c.JSON(http.StatusOK, RedeemResponse{
		Success:     true,
		Code:        result.Code,
		PointsAdded: result.PointsAdded,
		TotalPoints: result.TotalPoints,
	})
}

// PointsHandler returns the signed-in user's balance and recent history
func (rh *RedeemHandlers) PointsHandler(c *gin.Context) {
	claims, ok := auth.UserFromContext(c)
	if !ok {
		response.SendError(c, http.StatusUnauthorized, "unauthorized", "Please sign in with LINE again.", nil)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.SendError(c, http.StatusBadRequest, "invalid_request", "limit must be a positive number.", err)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	points, err := rh.redeemService.GetPoints(c.Request.Context(), claims.UserID(), limit)
	if err != nil {
		response.SendRetryableError(c, http.StatusServiceUnavailable, "points_unavailable", "Could not load your points right now.", 0, err)
		return
	}

	displayName := points.DisplayName
	if displayName == "" {
		displayName = claims.Name
	}

	c.JSON(http.StatusOK, PointsResponse{
		UserID:      points.UserID,
		DisplayName: displayName,
		Points:      points.Points,
		History:     points.History,
	})
}

// IssueCodesHandler creates a batch of new redeem codes
func (rh *RedeemHandlers) IssueCodesHandler(c *gin.Context) {
	var req IssueCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid_request", "Invalid request body.", err)
		return
	}

	codes, err := rh.redeemService.IssueCodes(c.Request.Context(), req.Count, req.Points)
	if err != nil {
		if errors.Is(err, redeemService.ErrInvalidCode) {
			response.SendError(c, http.StatusBadRequest, "invalid_request", err.Error(), err)
			return
		}
		response.SendError(c, http.StatusInternalServerError, "issue_failed", "Could not create codes.", err)
		return
	}

	issued := make([]IssuedCode, len(codes))
	for i, code := range codes {
		issued[i] = IssuedCode{Code: code.Code, Points: code.Points, CreatedAt: code.CreatedAt}
	}

	c.JSON(http.StatusCreated, IssueCodesResponse{Codes: issued})
}
