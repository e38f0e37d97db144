package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/internal/db"
	"github.com/ikkim/account-backend/pkg/mailer"
	"github.com/ikkim/account-backend/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const testBaseURL = "http://front.example.com"

type accountFixture struct {
	svc      *accountService
	db       *gorm.DB
	userRepo repository.UserRepository
	codeRepo repository.EmailCodeRepository
	mail     *mailer.Recorder
	issuer   *util.SessionIssuer
}

func setupAccountServiceTest(t *testing.T, opts AccountOptions) *accountFixture {
	testDB, err := db.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.CleanupTestDB(testDB) })

	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}

	issuer, err := util.NewSessionIssuer("test-jwt-secret", 24*time.Hour)
	require.NoError(t, err)

	userRepo := repository.NewUserRepository(testDB)
	codeRepo := repository.NewEmailCodeRepository(testDB)
	rec := mailer.NewRecorder()

	svc, err := NewAccountService(testDB, userRepo, codeRepo, rec, issuer, opts)
	require.NoError(t, err)

	return &accountFixture{
		svc:      svc.(*accountService),
		db:       testDB,
		userRepo: userRepo,
		codeRepo: codeRepo,
		mail:     rec,
		issuer:   issuer,
	}
}

var codeLinkPattern = regexp.MustCompile(`/(verify_email|reset_password)/([0-9a-f]{128})`)

// lastCode extracts the one-time code from the most recent email.
func (f *accountFixture) lastCode(t *testing.T) string {
	t.Helper()
	msg, ok := f.mail.Last()
	require.True(t, ok, "no email was sent")
	m := codeLinkPattern.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 3, "email carries no code link")
	return m[2]
}

func aliceInput() RegisterInput {
	return RegisterInput{
		Email:     "alice@example.com",
		Password:  "s3cret!",
		FirstName: "Alice",
		LastName:  "Liddell",
		Country:   "UK",
	}
}

func (f *accountFixture) registerVerified(t *testing.T, input RegisterInput) *model.User {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, input, testBaseURL)
	require.NoError(t, err)
	user, err := f.svc.VerifyEmail(ctx, f.lastCode(t))
	require.NoError(t, err)
	return user
}

func TestAccountService_Register(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	user, err := f.svc.Register(ctx, aliceInput(), testBaseURL+"/")
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.IsVerified)
	assert.NotEqual(t, "s3cret!", user.Password)
	assert.True(t, util.VerifyPassword(user.Password, "s3cret!"))

	codes, err := f.codeRepo.FindByUser(user.ID)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, model.PurposeVerifyEmail, codes[0].Purpose)
	assert.Len(t, codes[0].Code, 128)

	msg, ok := f.mail.Last()
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Account verification", msg.Subject)
	assert.Contains(t, msg.HTML, testBaseURL+"/verify_email/"+codes[0].Code)
}

func TestAccountService_RegisterRejections(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, aliceInput(), testBaseURL)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(in *RegisterInput)
		wantErr error
	}{
		{
			name:    "Duplicate email",
			mutate:  func(in *RegisterInput) {},
			wantErr: ErrEmailAlreadyExists,
		},
		{
			name:    "Duplicate email with different case",
			mutate:  func(in *RegisterInput) { in.Email = " ALICE@example.com " },
			wantErr: ErrEmailAlreadyExists,
		},
		{
			name:    "Invalid email",
			mutate:  func(in *RegisterInput) { in.Email = "not-an-email" },
			wantErr: ErrValidation,
		},
		{
			name:    "Missing password",
			mutate:  func(in *RegisterInput) { in.Email = "bob@example.com"; in.Password = "" },
			wantErr: ErrValidation,
		},
		{
			name:    "Password longer than 72 bytes",
			mutate:  func(in *RegisterInput) { in.Email = "bob@example.com"; in.Password = strings.Repeat("a", 73) },
			wantErr: ErrValidation,
		},
		{
			name:    "Multibyte password over 72 bytes",
			mutate:  func(in *RegisterInput) { in.Email = "bob@example.com"; in.Password = strings.Repeat("€", 25) },
			wantErr: ErrValidation,
		},
		{
			name:    "Blank first name",
			mutate:  func(in *RegisterInput) { in.Email = "bob@example.com"; in.FirstName = "   " },
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := aliceInput()
			tt.mutate(&input)

			user, err := f.svc.Register(ctx, input, testBaseURL)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Nil(t, user)
		})
	}

	users, err := f.userRepo.FindAll()
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Len(t, f.mail.Messages(), 1)
}

func TestAccountService_RegisterKeepsUserWhenMailFails(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	f.mail.Err = errors.New("smtp down")

	user, err := f.svc.Register(context.Background(), aliceInput(), testBaseURL)
	require.NoError(t, err)

	stored, err := f.userRepo.FindByID(user.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
}

func TestAccountService_RegisterDefaultCost(t *testing.T) {
	testDB, err := db.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.CleanupTestDB(testDB) })

	issuer, err := util.NewSessionIssuer("test-jwt-secret", 0)
	require.NoError(t, err)
	svc, err := NewAccountService(testDB, repository.NewUserRepository(testDB), repository.NewEmailCodeRepository(testDB), mailer.NewRecorder(), issuer, AccountOptions{})
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), aliceInput(), testBaseURL)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(user.Password))
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
}

func TestAccountService_VerifyEmail(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, aliceInput(), testBaseURL)
	require.NoError(t, err)
	code := f.lastCode(t)

	user, err := f.svc.VerifyEmail(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.True(t, user.IsVerified)

	codes, err := f.codeRepo.FindByUser(user.ID)
	require.NoError(t, err)
	assert.Empty(t, codes)

	// a spent code cannot be used again
	user, err = f.svc.VerifyEmail(ctx, code)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Nil(t, user)

	_, err = f.svc.VerifyEmail(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestAccountService_CodesArePurposeBound(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	f.registerVerified(t, aliceInput())

	_, err := f.svc.RequestPasswordReset(ctx, "alice@example.com", testBaseURL)
	require.NoError(t, err)
	resetCode := f.lastCode(t)

	_, err = f.svc.VerifyEmail(ctx, resetCode)
	assert.ErrorIs(t, err, ErrInvalidCode)

	// the reset code survives the failed attempt
	_, err = f.svc.ResetPassword(ctx, resetCode, "n3w-pass")
	assert.NoError(t, err)
}

func TestAccountService_CodeExpiry(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{CodeTTL: time.Hour})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, aliceInput(), testBaseURL)
	require.NoError(t, err)
	code := f.lastCode(t)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.svc.VerifyEmail(ctx, code)
	assert.ErrorIs(t, err, ErrInvalidCode)

	f.svc.now = time.Now
	user, err := f.svc.VerifyEmail(ctx, code)
	require.NoError(t, err)
	assert.True(t, user.IsVerified)
}

func TestAccountService_Login(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, aliceInput(), testBaseURL)
	require.NoError(t, err)

	// unverified accounts cannot log in
	result, err := f.svc.Login(ctx, "alice@example.com", "s3cret!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, result)

	_, err = f.svc.VerifyEmail(ctx, f.lastCode(t))
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{
			name:     "Valid credentials",
			email:    "alice@example.com",
			password: "s3cret!",
		},
		{
			name:     "Email is case insensitive",
			email:    "Alice@Example.com",
			password: "s3cret!",
		},
		{
			name:     "Wrong password",
			email:    "alice@example.com",
			password: "wrong",
			wantErr:  ErrInvalidCredentials,
		},
		{
			name:     "Unknown email",
			email:    "nobody@example.com",
			password: "s3cret!",
			wantErr:  ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.Login(ctx, tt.email, tt.password)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, "alice@example.com", result.User.Email)

			claims, err := f.issuer.Validate(result.Token)
			require.NoError(t, err)
			assert.Equal(t, result.User.ID, claims.User.ID)
			assert.Equal(t, "alice@example.com", claims.User.Email)
			assert.True(t, claims.User.IsVerified)
		})
	}
}

func TestAccountService_RequestPasswordReset(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	alice := f.registerVerified(t, aliceInput())

	user, err := f.svc.RequestPasswordReset(ctx, "nobody@example.com", testBaseURL)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, user)

	user, err = f.svc.RequestPasswordReset(ctx, "alice@example.com", testBaseURL)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	first := f.lastCode(t)

	msg, _ := f.mail.Last()
	assert.Equal(t, "Password reset request", msg.Subject)
	assert.Contains(t, msg.HTML, testBaseURL+"/reset_password/"+first)

	// a second request invalidates the first code
	_, err = f.svc.RequestPasswordReset(ctx, "alice@example.com", testBaseURL)
	require.NoError(t, err)
	second := f.lastCode(t)
	assert.NotEqual(t, first, second)

	codes, err := f.codeRepo.FindByUser(alice.ID)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, second, codes[0].Code)

	_, err = f.svc.ResetPassword(ctx, first, "n3w-pass")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestAccountService_ResetPassword(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	f.registerVerified(t, aliceInput())

	_, err := f.svc.RequestPasswordReset(ctx, "alice@example.com", testBaseURL)
	require.NoError(t, err)
	code := f.lastCode(t)

	_, err = f.svc.ResetPassword(ctx, code, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ResetPassword(ctx, code, strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrValidation)

	user, err := f.svc.ResetPassword(ctx, code, "n3w-pass")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	_, err = f.svc.Login(ctx, "alice@example.com", "s3cret!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	result, err := f.svc.Login(ctx, "alice@example.com", "n3w-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	// spent
	_, err = f.svc.ResetPassword(ctx, code, "another")
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = f.svc.ResetPassword(ctx, "unknown", "another")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

// vanishingUserRepository behaves as if the user row disappeared between
// reading the code and updating the user.
type vanishingUserRepository struct {
	repository.UserRepository
}

func (r vanishingUserRepository) WithTx(tx *gorm.DB) repository.UserRepository {
	return vanishingUserRepository{UserRepository: r.UserRepository.WithTx(tx)}
}

func (vanishingUserRepository) UpdateFields(uint, map[string]interface{}) (int64, error) {
	return 0, nil
}

func TestAccountService_UserVanishedRollsBack(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})
	ctx := context.Background()

	alice, err := f.svc.Register(ctx, aliceInput(), testBaseURL)
	require.NoError(t, err)
	verifyCode := f.lastCode(t)

	svc, err := NewAccountService(f.db, vanishingUserRepository{f.userRepo}, f.codeRepo, f.mail, f.issuer,
		AccountOptions{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	t.Run("VerifyEmail", func(t *testing.T) {
		user, err := svc.VerifyEmail(ctx, verifyCode)
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, user)

		// the delete inside the transaction was rolled back
		found, err := f.codeRepo.FindByCode(verifyCode, model.PurposeVerifyEmail)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, found.UserID)
	})

	t.Run("ResetPassword", func(t *testing.T) {
		_, err := svc.RequestPasswordReset(ctx, "alice@example.com", testBaseURL)
		require.NoError(t, err)
		resetCode := f.lastCode(t)

		user, err := svc.ResetPassword(ctx, resetCode, "n3w-pass")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.Nil(t, user)

		found, err := f.codeRepo.FindByCode(resetCode, model.PurposeResetPassword)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, found.UserID)

		stored, err := f.userRepo.FindByID(alice.ID)
		require.NoError(t, err)
		assert.True(t, util.VerifyPassword(stored.Password, "s3cret!"))
	})
}

func TestAccountService_IssueCodeForMissingUser(t *testing.T) {
	f := setupAccountServiceTest(t, AccountOptions{})

	_, err := f.svc.issueCode(f.db, 9999, model.PurposeResetPassword)
	assert.ErrorIs(t, err, ErrUserNotFound)

	codes, err := f.codeRepo.FindByUser(9999)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestLockUserForUpdate_Postgres(t *testing.T) {
	// dry run: nothing connects to a server
	pg, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=test dbname=test sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	sql := pg.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return lockUserForUpdate(tx, 42)
	})
	assert.Contains(t, sql, `FROM "users"`)
	assert.Contains(t, sql, `"users"."id" = 42`)
	assert.True(t, strings.HasSuffix(sql, "FOR UPDATE"), sql)
}
