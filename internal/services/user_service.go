package services

import (
	"crypto/sha256"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	FindUserByEmail(email string) (*User, error)
	AddUser(u *User) error
	CountUsers() (int, error)

	AddAPIKey(k *APIKey) error
	ListAPIKeys(studyID string) ([]*APIKey, error)
	FindAPIKey(id string) (*APIKey, error)
	FindAPIKeyByHash(hash []byte) (*APIKey, error)
	DisableAPIKey(id string) error

	AddAudit(entry AuditEntry)
}

type TokenSigner func(uid, email string, admin bool, ttl time.Duration) (string, error)

type UserService struct {
	store     UserStore
	now       func() time.Time
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

func NewUserService(store UserStore, signer TokenSigner, tokenTTL time.Duration) *UserService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &UserService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		signToken: signer,
		tokenTTL:  tokenTTL,
	}
}

// Register creates a local account. The first account ever created becomes an
// admin so a fresh deployment can bootstrap itself.
func (s *UserService) Register(email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	if len(password) < 8 {
		return nil, NewInvalidError("password must be at least 8 characters")
	}
	existing, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountUsers()
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:        newID(),
		Email:     email,
		PassHash:  hash,
		Admin:     count == 0,
		CreatedAt: s.now(),
	}
	if err := s.store.AddUser(u); err != nil {
		return nil, err
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, u.Admin, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: u.ID, Action: "register", Target: u.ID})
	return &AuthResult{Token: token, UserID: u.ID, Admin: u.Admin}, nil
}

func (s *UserService) Login(email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	u, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, u.Admin, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID, Admin: u.Admin}, nil
}

func (s *UserService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// CreateAPIKey mints a study-scoped key. The raw key is returned exactly once;
// only its hash is stored.
func (s *UserService) CreateAPIKey(actor, studyID, name string) (*APIKey, string, error) {
	if strings.TrimSpace(studyID) == "" {
		return nil, "", NewInvalidError("study_id required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, "", NewInvalidError("name required")
	}
	raw := "rsk_" + shortID(32)
	sum := sha256.Sum256([]byte(raw))
	k := &APIKey{
		ID:        newID(),
		StudyID:   studyID,
		Name:      name,
		KeyHash:   sum[:],
		CreatedAt: s.now(),
	}
	if err := s.store.AddAPIKey(k); err != nil {
		return nil, "", err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_api_key", Target: k.ID, Note: studyID})
	return k, raw, nil
}

func (s *UserService) ListAPIKeys(studyID string) ([]*APIKey, error) {
	if strings.TrimSpace(studyID) == "" {
		return nil, NewInvalidError("study_id required")
	}
	return s.store.ListAPIKeys(studyID)
}

// VerifyAPIKey resolves a raw key presented by a client. Keys are stored
// only as sha256 digests, so the lookup runs against the digest.
func (s *UserService) VerifyAPIKey(raw string) (*APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, NewUnauthorizedError("invalid api key")
	}
	sum := sha256.Sum256([]byte(raw))
	k, err := s.store.FindAPIKeyByHash(sum[:])
	if err != nil {
		return nil, err
	}
	if k == nil || k.Disabled {
		return nil, NewUnauthorizedError("invalid api key")
	}
	return k, nil
}

func (s *UserService) DisableAPIKey(actor, id string) error {
	k, err := s.store.FindAPIKey(id)
	if err != nil {
		return err
	}
	if k == nil {
		return NewNotFoundError("api key not found")
	}
	if err := s.store.DisableAPIKey(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "disable_api_key", Target: id})
	return nil
}
