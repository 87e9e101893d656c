// Package auth は利用者登録・ログインとセッションによる認可を提供します。
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/easypdf/internal/apperr"
	"github.com/yourusername/easypdf/internal/models"
	"github.com/yourusername/easypdf/internal/repository"
)

const minPasswordLength = 8

type registerRequest struct {
	Name     string `json:"name" binding:"max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register は /auth/register のハンドラーです。登録後はそのままログイン状態になります。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "name, email, password を JSON で送ってください", err))
		return
	}
	if len(req.Password) < minPasswordLength {
		apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "パスワードは8文字以上で指定してください", nil))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperr.Respond(c, apperr.New(apperr.CodeInternal, "パスワードの保存に失敗しました", err))
		return
	}

	user := &models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
	}
	if err := m.users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			apperr.Respond(c, apperr.New(apperr.CodeInvalidInput, "このメールアドレスは既に登録されています", err))
			return
		}
		apperr.Respond(c, apperr.New(apperr.CodeStorageFailure, "利用者の登録に失敗しました", err))
		return
	}

	if err := m.startSession(c, user.ID); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Me は /auth/me のハンドラーです。RequireLogin の後に置きます。
func (m *Manager) Me(c *gin.Context) {
	user, err := m.users.GetByID(c.Request.Context(), UserID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "ログインが必要です", err))
			return
		}
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
