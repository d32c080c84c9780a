package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/racetan/plinko/internal/middleware"
	"github.com/racetan/plinko/internal/models"
)

// ErrAuthInvalid covers every way a presented token can fail: malformed,
// expired, revoked or not backed by an active login session.
var ErrAuthInvalid = errors.New("invalid or expired session")

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response payload
type LoginResponse struct {
	OK           bool   `json:"ok"`
	SessionToken string `json:"session_token,omitempty"`
	Error        string `json:"error,omitempty"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// Login authenticates a user and issues a session token
// @Summary Login user
// @Description Authenticate with username and password; issues a 24h session token and revokes any previous session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Router /api/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendJSONResponse(w, http.StatusOK, LoginResponse{OK: false, Error: "username and password are required"})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)
	if err := s.validator.Struct(&req); err != nil {
		SendJSONResponse(w, http.StatusOK, LoginResponse{OK: false, Error: "username and password are required"})
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, username, password_hash, is_active
		FROM users
		WHERE username = $1 AND is_active = TRUE`, req.Username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsActive)
	if err != nil {
		log.Printf("[AUTH] User not found or inactive: %s", req.Username)
		SendJSONResponse(w, http.StatusOK, LoginResponse{OK: false, Error: "user not found or inactive"})
		return
	}

	if !VerifyPassword(req.Password, user.PasswordHash) {
		log.Printf("[AUTH] Invalid password for user: %s", req.Username)
		SendJSONResponse(w, http.StatusOK, LoginResponse{OK: false, Error: "incorrect password"})
		return
	}

	tokenID := uuid.NewString()
	expiresAt := time.Now().Add(tokenLifetime())

	// One active login session per user: replace any previous row. The
	// replaced token ids come back so their resolve-cache entries can be
	// purged; otherwise the old token would keep resolving until the cache
	// TTL runs out.
	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[AUTH] Transaction start failed for %s: %v", req.Username, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	revoked, err := revokeSessions(tx, user.ID)
	if err != nil {
		log.Printf("[AUTH] Failed to revoke previous sessions for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}
	if _, err := tx.Exec(`
		INSERT INTO auth_sessions (user_id, token_id, expires_at)
		VALUES ($1, $2, $3)`, user.ID, tokenID, expiresAt); err != nil {
		log.Printf("[AUTH] Failed to store session for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}
	if _, err := tx.Exec(`UPDATE users SET last_login = NOW() WHERE id = $1`, user.ID); err != nil {
		log.Printf("[AUTH] Failed to record login time for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[AUTH] Session commit failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		for _, old := range revoked {
			s.redis.Del(r.Context(), resolveCacheKey(old))
		}
	}

	token, err := generateToken(user.ID, tokenID, expiresAt)
	if err != nil {
		log.Printf("[AUTH] Token generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %d", user.ID)
	SendJSONResponse(w, http.StatusOK, LoginResponse{OK: true, SessionToken: token})
}

// Logout revokes the presented session token
// @Summary Logout user
// @Description Delete the login session and blacklist its token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /api/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.ExtractToken(r)
	if token != "" {
		if claims, err := parseToken(token); err == nil {
			if _, err := s.db.Exec(`DELETE FROM auth_sessions WHERE token_id = $1`, claims.ID); err != nil {
				log.Printf("[AUTH] Failed to delete session %s: %v", claims.ID, err)
			}
			if s.redis != nil {
				ctx := r.Context()
				if err := s.redis.Set(ctx, blacklistKey(token), "1", tokenLifetime()).Err(); err != nil {
					log.Printf("[AUTH] Failed to blacklist token: %v", err)
				}
				s.redis.Del(ctx, resolveCacheKey(claims.ID))
			}
		}
	}

	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// GetAccount returns the authenticated user's account details
// @Summary Get current user
// @Description Return the authenticated user's account details
// @Tags auth
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Router /api/me [get]
func (s *AuthService) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, username, is_active, last_login, created_at
		FROM users
		WHERE id = $1`, userID).
		Scan(&user.ID, &user.Username, &user.IsActive, &user.LastLogin, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[AUTH] Failed to fetch user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch user details", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, user)
}

// ResolveToken maps a presented token to an active user identity. The token
// must parse and verify, must not be blacklisted, and must still be backed
// by a non-expired auth_sessions row for an active user.
func (s *AuthService) ResolveToken(ctx context.Context, token string) (int64, error) {
	claims, err := parseToken(token)
	if err != nil {
		return 0, ErrAuthInvalid
	}

	if s.redis != nil {
		if exists, err := s.redis.Exists(ctx, blacklistKey(token)).Result(); err == nil && exists > 0 {
			return 0, ErrAuthInvalid
		}
		if cached, err := s.redis.Get(ctx, resolveCacheKey(claims.ID)).Int64(); err == nil {
			return cached, nil
		}
	}

	var userID int64
	err = s.db.QueryRow(`
		SELECT s.user_id
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_id = $1
		  AND u.is_active = TRUE
		  AND (s.expires_at IS NULL OR s.expires_at > NOW())
		LIMIT 1`, claims.ID).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrAuthInvalid
		}
		return 0, fmt.Errorf("resolve token: %w", err)
	}

	if s.redis != nil {
		s.redis.Set(ctx, resolveCacheKey(claims.ID), userID, time.Minute)
	}
	return userID, nil
}

// revokeSessions deletes every login session of the user and returns the
// token ids that were revoked.
func revokeSessions(tx *sql.Tx, userID int64) ([]string, error) {
	rows, err := tx.Query(`DELETE FROM auth_sessions WHERE user_id = $1 RETURNING token_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revoked []string
	for rows.Next() {
		var tokenID string
		if err := rows.Scan(&tokenID); err != nil {
			return nil, err
		}
		revoked = append(revoked, tokenID)
	}
	return revoked, rows.Err()
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

func resolveCacheKey(tokenID string) string {
	return fmt.Sprintf("auth_session:%s", tokenID)
}

func tokenLifetime() time.Duration {
	viper.SetDefault("jwt.expiry_hours", 24)
	return time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
}

func generateToken(userID int64, tokenID string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", userID),
		ID:        tokenID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func parseToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid || claims.ID == "" {
		return nil, ErrAuthInvalid
	}
	return claims, nil
}

type argonParams struct {
	time       uint32
	memory     uint32
	threads    uint8
	keyLength  uint32
	saltLength int
}

func loadArgonParams() argonParams {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	return argonParams{
		time:       uint32(viper.GetInt("argon2.time")),
		memory:     uint32(viper.GetInt("argon2.memory")),
		threads:    uint8(viper.GetInt("argon2.threads")),
		keyLength:  uint32(viper.GetInt("argon2.key_length")),
		saltLength: viper.GetInt("argon2.salt_length"),
	}
}

// HashPassword derives an argon2id hash in salt$hash encoding.
func HashPassword(password string) (string, error) {
	p := loadArgonParams()
	salt := make([]byte, p.saltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks a password against a salt$hash argon2id encoding.
func VerifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	p := loadArgonParams()
	computedHash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLength)
	return string(hash) == string(computedHash)
}
