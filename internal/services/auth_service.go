package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"shuttle/internal/domain"
	"shuttle/internal/domain/models"
	"shuttle/internal/repositories"
	"shuttle/internal/utils"
)

const minPasswordLength = 6

type AuthService struct {
	Store    repositories.Store
	Secret   []byte
	TokenTTL time.Duration
	Deps
}

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type AuthResult struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (s AuthService) ttl() time.Duration {
	if s.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return s.TokenTTL
}

// Register creates a traveller account and signs them in.
func (s AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	u, err := s.createUser(ctx, in, domain.RoleTraveller)
	if err != nil {
		return AuthResult{}, err
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return AuthResult{}, err
	}
	utils.LogEvent(ctx, s.log(), "auth", "register", "user registered", zap.String("user_id", u.ID))
	return AuthResult{Token: token, User: u}, nil
}

func (s AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	invalid := domain.UnauthorizedError{Msg: "invalid email or password", Err: domain.ErrInvalidCredentials}

	u, err := s.Store.GetUserByEmail(ctx, utils.NormalizeEmail(email))
	if domain.IsNotFound(err) {
		return AuthResult{}, invalid
	}
	if err != nil {
		return AuthResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, invalid
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return AuthResult{}, err
	}
	utils.LogEvent(ctx, s.log(), "auth", "login", "user logged in", zap.String("user_id", u.ID))
	return AuthResult{Token: token, User: u}, nil
}

// CreateDriver lets an admin provision a driver account.
func (s AuthService) CreateDriver(ctx context.Context, rc domain.RequestContext, in RegisterInput) (models.User, error) {
	if err := rc.Require(domain.CapManageUsers); err != nil {
		return models.User{}, err
	}
	u, err := s.createUser(ctx, in, domain.RoleDriver)
	if err != nil {
		return models.User{}, err
	}
	utils.LogEvent(ctx, s.log(), "auth", "create_driver", "driver created", zap.String("user_id", u.ID))
	return u, nil
}

// EnsureAdmin creates the bootstrap admin once; an existing account is left alone.
func (s AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil
	}
	_, err := s.createUser(ctx, RegisterInput{Email: email, Name: "Administrator", Password: password}, domain.RoleAdmin)
	if errors.Is(err, domain.ErrEmailTaken) {
		return nil
	}
	if err == nil {
		s.log().Info("bootstrap admin created", zap.String("email", utils.NormalizeEmail(email)))
	}
	return err
}

func (s AuthService) createUser(ctx context.Context, in RegisterInput, role domain.Role) (models.User, error) {
	email := utils.NormalizeEmail(in.Email)
	name := utils.NormalizeSpace(in.Name)
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, domain.ValidationError{Field: "email", Msg: "a valid email is required"}
	}
	if name == "" {
		return models.User{}, domain.ValidationError{Field: "name", Msg: "name is required"}
	}
	if len(in.Password) < minPasswordLength {
		return models.User{}, domain.ValidationError{Field: "password", Msg: "password must be at least 6 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, domain.InternalError{Msg: "failed to hash password", Err: err}
	}
	u := models.User{
		ID:           s.newID(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.Store.InsertUser(ctx, u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (s AuthService) IssueToken(u models.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email: u.Email,
		Role:  u.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", domain.InternalError{Msg: "failed to sign token", Err: err}
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry and returns the caller.
func (s AuthService) ParseToken(raw string) (domain.RequestContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.RequestContext{}, domain.UnauthorizedError{Msg: "invalid or expired token", Err: err}
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil || claims.Subject == "" {
		return domain.RequestContext{}, domain.UnauthorizedError{Msg: "invalid token claims"}
	}
	return domain.RequestContext{UserID: claims.Subject, Role: role}, nil
}

// Authenticate parses the token and reloads the user so role changes and
// deletions take effect before the token expires.
func (s AuthService) Authenticate(ctx context.Context, raw string) (domain.RequestContext, error) {
	rc, err := s.ParseToken(raw)
	if err != nil {
		return domain.RequestContext{}, err
	}
	u, err := s.Store.GetUser(ctx, rc.UserID)
	if domain.IsNotFound(err) {
		return domain.RequestContext{}, domain.UnauthorizedError{Msg: "account no longer exists"}
	}
	if err != nil {
		return domain.RequestContext{}, err
	}
	return domain.RequestContext{UserID: u.ID, Role: u.Role}, nil
}
