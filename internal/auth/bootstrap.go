package auth

import (
	"context"
	"errors"

	"github.com/nerrad567/retail-auth-core/internal/audit"
)

// Gate creates the first administrator on a fresh install. Once any user
// holds the Admin role it refuses every further registration.
type Gate struct {
	d        Deps
	policy   PasswordPolicy
	issuer   *TokenIssuer
	validate *inputValidator
}

// NewGate returns a bootstrap Gate.
func NewGate(d Deps, policy PasswordPolicy, issuer *TokenIssuer) *Gate {
	return &Gate{d: d.withDefaults(), policy: policy, issuer: issuer, validate: newInputValidator()}
}

// BootstrapResult is the new administrator and a token for immediate use.
// The token is not bound to a session.
type BootstrapResult struct {
	User      *User        `json:"user"`
	Principal *Principal   `json:"principal"`
	Token     *IssuedToken `json:"token"`
}

// AdminExists reports whether an administrator has been registered.
func (g *Gate) AdminExists(ctx context.Context) (bool, error) {
	return g.d.Users.AdminExists(ctx)
}

// RegisterFirstAdmin creates the first administrator. The existence check,
// role creation, user insert and assignment share one transaction, so two
// concurrent registrations cannot both succeed.
func (g *Gate) RegisterFirstAdmin(ctx context.Context, profile Profile, deviceID string) (*BootstrapResult, error) {
	res, err := g.register(ctx, profile, deviceID)

	outcome, severity := audit.Result(err == nil)
	ev := audit.Event{
		Type:        audit.EventAdminCreated,
		Category:    audit.CategorySystem,
		Severity:    severity,
		Outcome:     outcome,
		Username:    profile.Username,
		DeviceID:    deviceID,
		Description: "first administrator registered",
	}
	if err != nil {
		ev.Description = "first administrator registration refused: " + err.Error()
	} else {
		ev.UserID = res.User.ID
		ev.Severity = audit.SeverityCritical
	}
	g.d.Audit.Emit(ctx, ev)

	if err == nil {
		g.d.Logger.Warn("first administrator created", "user_id", res.User.ID, "username", res.User.Username)
	}
	return res, err
}

func (g *Gate) register(ctx context.Context, profile Profile, deviceID string) (*BootstrapResult, error) {
	if err := g.validate.Struct(profile); err != nil {
		return nil, err
	}

	exists, err := g.d.Users.AdminExists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAdminAlreadyExists
	}

	if err := g.policy.Check(profile.Password); err != nil {
		return nil, err
	}

	hash, err := g.d.Hasher.Hash(profile.Password)
	if err != nil {
		return nil, internalError("hashing password", err)
	}

	now := g.d.now()
	user := &User{
		Username:          profile.Username,
		Email:             profile.Email,
		FirstName:         profile.FirstName,
		LastName:          profile.LastName,
		Phone:             profile.Phone,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
		IsActive:          true,
		CreatedAt:         now,
	}
	if err := g.d.Users.BootstrapAdmin(ctx, user); err != nil {
		if errors.Is(err, ErrAdminAlreadyExists) {
			g.d.Logger.Warn("concurrent admin registration refused", "username", profile.Username)
		}
		return nil, err
	}

	token, err := g.issuer.Issue(user, "", deviceID)
	if err != nil {
		return nil, err
	}

	return &BootstrapResult{
		User: user,
		Principal: &Principal{
			UserID:    user.ID,
			Username:  user.Username,
			DeviceID:  deviceID,
			Roles:     []string{RoleAdmin},
			IssuedAt:  token.IssuedAt,
			ExpiresAt: token.ExpiresAt,
		},
		Token: token,
	}, nil
}
