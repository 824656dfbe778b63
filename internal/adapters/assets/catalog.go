package assets

import (
	"assetcore/pkg/domain"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type userRequest struct {
	AuthUID     string `json:"auth_uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Department  string `json:"department"`
	Role        string `json:"role"`
}

func (r userRequest) user() domain.User {
	return domain.User{
		AuthUID:     strings.TrimSpace(r.AuthUID),
		DisplayName: r.DisplayName,
		Email:       r.Email,
		Department:  r.Department,
		Role:        r.Role,
	}
}

// POST /api/v1/users/register
//
// Maps the caller's own auth UID to a new user. The caller acts as itself.
func (h *Handler) Register(c *gin.Context) {
	uid := strings.TrimSpace(c.GetHeader(HeaderUserUID))
	if uid == "" {
		respondError(c, http.StatusUnauthorized, "missing_user", errors.New(HeaderUserUID+" header required"))
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	user := req.user()
	user.AuthUID = uid
	created, _, err := h.svc.CreateUser(c.Request.Context(), domain.Session{AuthUID: uid, DisplayName: user.DisplayName}, user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": created})
}

// GET /api/v1/me
func (h *Handler) Me(c *gin.Context) {
	respondOK(c, gin.H{"session": sessionFrom(c)})
}

// GET /api/v1/users
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.ListUsers(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"users": nonNil(users)})
}

// POST /api/v1/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	created, _, err := h.svc.CreateUser(c.Request.Context(), sessionFrom(c), req.user())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": created})
}

// PATCH /api/v1/users/:id
func (h *Handler) UpdateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	updated, _, err := h.svc.UpdateUser(c.Request.Context(), sessionFrom(c), c.Param("id"), func(u *domain.User) error {
		if req.DisplayName != "" {
			u.DisplayName = req.DisplayName
		}
		if req.Email != "" {
			u.Email = req.Email
		}
		if req.Department != "" {
			u.Department = req.Department
		}
		if req.Role != "" {
			u.Role = req.Role
		}
		return nil
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"user": updated})
}

// DELETE /api/v1/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	if _, err := h.svc.DeleteUser(c.Request.Context(), sessionFrom(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type categoryRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GET /api/v1/categories
func (h *Handler) ListCategories(c *gin.Context) {
	categories, err := h.svc.ListCategories(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"categories": nonNil(categories)})
}

// POST /api/v1/categories
func (h *Handler) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	created, _, err := h.svc.CreateCategory(c.Request.Context(), sessionFrom(c), domain.Category{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"category": created})
}

// PATCH /api/v1/categories/:id
func (h *Handler) UpdateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	updated, _, err := h.svc.UpdateCategory(c.Request.Context(), sessionFrom(c), c.Param("id"), func(cat *domain.Category) error {
		if req.Name != "" {
			cat.Name = req.Name
		}
		if req.Description != "" {
			cat.Description = req.Description
		}
		return nil
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"category": updated})
}

// DELETE /api/v1/categories/:id
func (h *Handler) DeleteCategory(c *gin.Context) {
	if _, err := h.svc.DeleteCategory(c.Request.Context(), sessionFrom(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
