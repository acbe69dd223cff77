package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/errs"
	"github.com/visionsuite/backend/models"
)

const tokenLifetime = 24 * time.Hour

type authHandler struct {
	responder Responder
	logger    zerolog.Logger
	userRepo  *database.UserRepo
	jwtSecret []byte
}

func newAuthHandler(userRepo *database.UserRepo, jwtSecret string) authHandler {
	logger := log.With().Str("handlerName", "authHandler").Logger()

	return authHandler{
		responder: NewResponder(logger),
		logger:    logger,
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecret),
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// register creates a new user account
// @Summary Register
// @Description Creates a user with a bcrypt-hashed password
// @Tags Auth
// @Accept json
// @Produce json
// @Success 201 {object} models.User "Created user"
// @Failure 409 {object} ErrorResponse "Conflict - username taken"
// @Router /register [post]
func (h authHandler) register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			h.responder.WriteError(w, errs.NewInvalidJSONError(err))
			return
		}
		if creds.Username == "" {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("username"))
			return
		}
		if creds.Password == "" {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("password"))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
		if err != nil {
			h.responder.WriteError(w, errs.NewInternalErrorWithCause("hashing password", err))
			return
		}

		user := models.User{
			ID:           uuid.New(),
			Username:     creds.Username,
			PasswordHash: string(hash),
		}
		if err := h.userRepo.Add(&user); err != nil {
			h.responder.WriteError(w, wrapDatabaseError("create", "user", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		h.responder.WriteJSON(w, user)
	}
}

// login verifies credentials and issues a session token
// @Summary Login
// @Description Verifies the password and returns a signed bearer token
// @Tags Auth
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "token"
// @Failure 401 {object} ErrorResponse "Unauthorized - bad credentials"
// @Router /login [post]
func (h authHandler) login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			h.responder.WriteError(w, errs.NewInvalidJSONError(err))
			return
		}

		user, err := h.userRepo.FindByUsername(creds.Username)
		if err != nil {
			h.responder.WriteError(w, wrapDatabaseError("find", "user", err))
			return
		}
		if user == nil {
			h.responder.WriteError(w, errs.NewInvalidCredentialsError())
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
			h.responder.WriteError(w, errs.NewInvalidCredentialsError())
			return
		}

		now := time.Now()
		claims := jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
		if err != nil {
			h.responder.WriteError(w, errs.NewInternalErrorWithCause("signing token", err))
			return
		}

		h.responder.WriteJSON(w, map[string]string{"token": token})
	}
}
