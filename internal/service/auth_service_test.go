package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/agenda-lina-api/internal/models"
	appErrors "github.com/noah-isme/agenda-lina-api/pkg/errors"
)

type mockAuthRepo struct {
	user             *models.User
	findErr          error
	linked           []string
	linkedErr        error
	linkedCalls      int
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.user == nil || m.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) LinkedStudentIDs(ctx context.Context, userID string) ([]string, error) {
	m.linkedCalls++
	return m.linked, m.linkedErr
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func newAuthFixture(t *testing.T, role models.UserRole, active bool) (*AuthService, *mockAuthRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &mockAuthRepo{
		user:   &models.User{ID: "user-1", Email: "ana@escola.br", PasswordHash: string(hash), FullName: "Ana", Role: role, Active: active},
		linked: []string{"stu-1"},
	}
	svc := NewAuthService(repo, nil, zap.NewNop(), AuthConfig{AccessTokenSecret: "test-secret", AccessTokenExpiry: time.Hour, Issuer: "agenda-lina"})
	return svc, repo
}

func TestAuthServiceLoginStudentCarriesLinkedStudents(t *testing.T) {
	svc, repo := newAuthFixture(t, models.RoleStudent, true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: " ANA@escola.br ", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, []string{"stu-1"}, resp.User.StudentIDs)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.True(t, claims.CanViewStudent("stu-1"))
	assert.False(t, claims.CanViewStudent("stu-2"))
}

func TestAuthServiceLoginTeacherSkipsLinkedStudents(t *testing.T) {
	svc, repo := newAuthFixture(t, models.RoleTeacher, true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@escola.br", Password: "secret123"})
	require.NoError(t, err)
	assert.Empty(t, resp.User.StudentIDs)
	assert.Zero(t, repo.linkedCalls)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	ctx := context.Background()

	svc, _ := newAuthFixture(t, models.RoleStudent, true)
	_, err := svc.Login(ctx, models.LoginRequest{Email: "ana@escola.br", Password: "wrong"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appCode(t, err))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "nobody@escola.br", Password: "secret123"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appCode(t, err))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "not-an-email", Password: "secret123"})
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))

	inactive, _ := newAuthFixture(t, models.RoleStudent, false)
	_, err = inactive.Login(ctx, models.LoginRequest{Email: "ana@escola.br", Password: "secret123"})
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appCode(t, err))

	broken, repo := newAuthFixture(t, models.RoleGuardian, true)
	repo.linkedErr = errors.New("db down")
	_, err = broken.Login(ctx, models.LoginRequest{Email: "ana@escola.br", Password: "secret123"})
	assert.Equal(t, appErrors.ErrInternal.Code, appCode(t, err))
}

func TestAuthServiceValidateTokenRejectsForeignTokens(t *testing.T) {
	svc, repo := newAuthFixture(t, models.RoleAdmin, true)
	other := NewAuthService(repo, nil, nil, AuthConfig{AccessTokenSecret: "other-secret", Issuer: "agenda-lina"})

	token, err := other.IssueToken(repo.user, nil, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appCode(t, err))

	expired, err := svc.IssueToken(repo.user, nil, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appCode(t, err))

	_, err = svc.ValidateToken("garbage")
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appCode(t, err))
}
