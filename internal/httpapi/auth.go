package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kapehan/backend/internal/domain"
)

var errInvalidCredentials = errors.New("invalid username or password")

type userStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and validates bearer tokens. Accounts live in the store;
// the in-memory map is a cache refreshed on login so password changes made
// directly in the database are picked up without a restart.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	store    userStore

	mu    sync.RWMutex
	users map[string]domain.UserAccount
}

func NewAuthManager(secret string, tokenTTL time.Duration, store userStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	m := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		store:    store,
		users:    make(map[string]domain.UserAccount),
	}
	m.bootstrapUsers()
	return m
}

// bootstrapUsers loads accounts and upgrades any stored plaintext password to
// a bcrypt hash. Plaintext rows exist only in databases seeded by hand.
func (m *AuthManager) bootstrapUsers() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accounts, err := m.store.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] WARN: could not load users: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range accounts {
		if !isPasswordHash(account.Password) {
			hashed, err := hashPassword(account.Password)
			if err != nil {
				log.Printf("[auth] WARN: could not hash password for %q: %v", account.Username, err)
				continue
			}
			if err := m.store.UpdateUserPassword(ctx, account.Username, hashed); err != nil {
				log.Printf("[auth] WARN: could not upgrade password for %q: %v", account.Username, err)
			}
			account.Password = hashed
		}
		m.users[account.Username] = account
	}
}

func (m *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	m.mu.RLock()
	account, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		// New accounts may have been created since startup.
		m.bootstrapUsers()
		m.mu.RLock()
		account, ok = m.users[username]
		m.mu.RUnlock()
	}
	if !ok || !account.Active {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	expiresAt := time.Now().Add(m.tokenTTL)
	token, err := m.sign(account, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (m *AuthManager) sign(account domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  account.Username,
		"role": account.Role,
		"iss":  "kapehan",
		"iat":  time.Now().Unix(),
		"exp":  expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer("kapehan"))
	if err != nil {
		return domain.Actor{}, errors.New("invalid token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return domain.Actor{}, errors.New("invalid token")
	}
	username, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if username == "" || role == "" {
		return domain.Actor{}, errors.New("invalid token")
	}
	return domain.Actor{Username: username, Role: role}, nil
}

// CreateCrew registers a crew account. Admin accounts are only ever seeded.
func (m *AuthManager) CreateCrew(req domain.CrewCreateRequest) (domain.CrewUser, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 || strings.Contains(username, " ") {
		return domain.CrewUser{}, errors.New("username must be at least 4 characters with no spaces")
	}
	if len(req.Password) < 6 {
		return domain.CrewUser{}, errors.New("password must be at least 6 characters")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[username]; exists {
		return domain.CrewUser{}, fmt.Errorf("username %q is taken", username)
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return domain.CrewUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hashed,
		Role:      "crew",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.CreateUser(ctx, account); err != nil {
		return domain.CrewUser{}, fmt.Errorf("create user: %w", err)
	}
	m.users[username] = account

	return domain.CrewUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (m *AuthManager) ListCrew() []domain.CrewUser {
	m.mu.RLock()
	defer m.mu.RUnlock()

	crew := make([]domain.CrewUser, 0, len(m.users))
	for _, account := range m.users {
		if account.Role != "crew" {
			continue
		}
		crew = append(crew, domain.CrewUser{
			Username:  account.Username,
			Role:      account.Role,
			Active:    account.Active,
			CreatedAt: account.CreatedAt,
		})
	}
	sort.Slice(crew, func(i, j int) bool { return crew[i].Username < crew[j].Username })
	return crew
}

func hashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func verifyPassword(stored, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
